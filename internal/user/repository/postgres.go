package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"portfolio-cms/backend/internal/user/domain"
)

const userColumns = `id, email, name, role, permissions, password_hash, password_salt, status,
totp_secret, backup_codes, two_factor_enabled, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	secret := sql.NullString{String: u.TOTPSecret, Valid: u.TOTPSecret != ""}
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.ID, u.Email, u.Name, u.Role, nonNil(u.Permissions), u.PasswordHash, u.PasswordSalt, string(u.Status),
		secret, nonNil(u.BackupCodes), u.TwoFactorEnabled, u.CreatedAt, u.UpdatedAt)
	return err
}

// EnableTwoFactor stores the encrypted secret and codes and sets two_factor_enabled.
func (r *PostgresRepository) EnableTwoFactor(ctx context.Context, userID, encSecret string, encCodes []string) error {
	return r.exec(ctx, `UPDATE users SET totp_secret = $2, backup_codes = $3, two_factor_enabled = TRUE, updated_at = $4
WHERE id = $1`, userID, encSecret, nonNil(encCodes), time.Now().UTC())
}

// UpdateBackupCodes replaces the encrypted backup codes, e.g. after one was consumed.
func (r *PostgresRepository) UpdateBackupCodes(ctx context.Context, userID string, encCodes []string) error {
	return r.exec(ctx, `UPDATE users SET backup_codes = $2, updated_at = $3 WHERE id = $1`,
		userID, nonNil(encCodes), time.Now().UTC())
}

// ConsumeBackupCode clears one backup code slot in a single conditional
// update, so concurrent logins cannot both spend the same code.
func (r *PostgresRepository) ConsumeBackupCode(ctx context.Context, userID string, index int, expected string) (bool, error) {
	if expected == "" || index < 0 {
		return false, nil
	}
	// Postgres arrays are 1-based.
	res, err := r.db.ExecContext(ctx, `UPDATE users SET backup_codes[$2::int] = '', updated_at = $4
WHERE id = $1 AND backup_codes[$2::int] = $3`, userID, index+1, expected, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DisableTwoFactor clears the TOTP secret and backup codes.
func (r *PostgresRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	return r.exec(ctx, `UPDATE users SET totp_secret = NULL, backup_codes = '{}', two_factor_enabled = FALSE, updated_at = $2
WHERE id = $1`, userID, time.Now().UTC())
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u      domain.User
		status string
		secret sql.NullString
	)
	// text[] columns go through pgtype since database/sql has no array scanner.
	m := pgtype.NewMap()
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, m.SQLScanner(&u.Permissions),
		&u.PasswordHash, &u.PasswordSalt, &status, &secret, m.SQLScanner(&u.BackupCodes),
		&u.TwoFactorEnabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Status = domain.UserStatus(status)
	u.TOTPSecret = secret.String
	return &u, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
