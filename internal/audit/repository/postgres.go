package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"portfolio-cms/backend/internal/audit/domain"
)

const (
	insertEventSQL = `INSERT INTO security_events (id, type, user_id, ip, user_agent, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	listEventsByUserSQL = `SELECT id, type, user_id, ip, user_agent, metadata, created_at
FROM security_events WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a security event repository backed by the security_events table.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts e. The event must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.SecurityEvent) error {
	var meta []byte
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = b
	}
	uid := sql.NullString{String: e.UserID, Valid: e.UserID != ""}
	ua := sql.NullString{String: e.UserAgent, Valid: e.UserAgent != ""}
	_, err := r.db.ExecContext(ctx, insertEventSQL,
		e.ID, string(e.Type), uid, e.IP, ua, nullJSON(meta), e.CreatedAt.UTC())
	return err
}

// ListByUser returns the newest events for userID, at most limit.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.SecurityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listEventsByUserSQL, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.SecurityEvent
	for rows.Next() {
		var (
			e        domain.SecurityEvent
			typ      string
			uid, ua  sql.NullString
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &typ, &uid, &e.IP, &ua, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(typ)
		e.UserID = uid.String
		e.UserAgent = ua.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for %s: %w", e.ID, err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
