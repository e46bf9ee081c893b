// seed creates the initial admin account for local testing. Run via ./scripts/seed.sh.
// Idempotent: skips the insert if the admin email already exists.
//
// SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD override the development defaults.
package main

import (
	"context"
	"log"
	"os"

	"github.com/google/uuid"

	"portfolio-cms/backend/internal/config"
	"portfolio-cms/backend/internal/db"
	"portfolio-cms/backend/internal/security"
	"portfolio-cms/backend/internal/user/domain"
	userrepo "portfolio-cms/backend/internal/user/repository"
)

const (
	devAdminEmail    = "admin@example.com"
	devAdminPassword = "change-me-immediately"
	devAdminName     = "Site Owner"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if len(cfg.GeneratedSecrets) > 0 {
		log.Fatalf("PASSWORD_PEPPER must be set before seeding, or the seeded password can never be verified (missing: %v)", cfg.GeneratedSecrets)
	}

	email := envOr("SEED_ADMIN_EMAIL", devAdminEmail)
	password := envOr("SEED_ADMIN_PASSWORD", devAdminPassword)
	if cfg.IsProduction() && password == devAdminPassword {
		log.Fatal("SEED_ADMIN_PASSWORD must be set in production")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	ctx := context.Background()

	existing, err := users.GetByEmail(ctx, email)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", email)
		return
	}

	enc, err := security.NewEncryptor(cfg.PasswordPepper, cfg.PBKDF2Iterations, security.WithBcryptCost(cfg.BcryptCost))
	if err != nil {
		log.Fatalf("encryptor: %v", err)
	}
	hash, salt, err := enc.HashPassword(password, "")
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	if err := users.Create(ctx, &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         devAdminName,
		Role:         domain.RoleAdmin,
		PasswordHash: hash,
		PasswordSalt: salt,
	}); err != nil {
		log.Fatalf("create admin: %v", err)
	}
	log.Printf("Seed complete. Admin: %s", email)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
