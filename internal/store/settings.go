package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/erazemk/squire/internal/model"
)

// GetJWTSecret retrieves the JWT secret from the database.
// If no secret exists, it generates one, stores it, and returns it.
// Uses INSERT OR IGNORE + re-SELECT to avoid TOCTOU race on concurrent startup.
func GetJWTSecret(ctx context.Context, db *sql.DB) (string, error) {
	// Try to generate and insert first (safe against races).
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}
	candidate := hex.EncodeToString(buf)

	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES ('jwt_secret', ?)`,
		candidate,
	)
	if err != nil {
		return "", fmt.Errorf("storing jwt_secret: %w", err)
	}

	// Always read back (either our insert or the existing value).
	var secret string
	err = db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = 'jwt_secret'`,
	).Scan(&secret)
	if err != nil {
		return "", fmt.Errorf("querying jwt_secret: %w", err)
	}

	return secret, nil
}

const (
	settingApprovalRequired = "transfer_approval_required"
	settingTimeoutSeconds   = "transfer_timeout_seconds"
)

// SeedTransferSettings stores the given policy unless one is already stored.
func SeedTransferSettings(ctx context.Context, db *sql.DB, s model.TransferSettings) error {
	for key, value := range transferSettingValues(s) {
		if _, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, value,
		); err != nil {
			return fmt.Errorf("seeding %s: %w", key, err)
		}
	}
	return nil
}

// SetTransferSettings replaces the stored transfer policy.
func SetTransferSettings(ctx context.Context, db *sql.DB, s model.TransferSettings) error {
	if s.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for key, value := range transferSettingValues(s) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value,
		); err != nil {
			return fmt.Errorf("storing %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transfer settings: %w", err)
	}
	return nil
}

// GetTransferSettings returns the stored transfer policy, falling back to
// model.DefaultTransferSettings for missing keys.
func GetTransferSettings(ctx context.Context, db DBTX) (model.TransferSettings, error) {
	s := model.DefaultTransferSettings

	rows, err := db.QueryContext(ctx,
		`SELECT key, value FROM settings WHERE key IN (?, ?)`,
		settingApprovalRequired, settingTimeoutSeconds,
	)
	if err != nil {
		return s, fmt.Errorf("querying transfer settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return s, fmt.Errorf("scanning setting: %w", err)
		}
		switch key {
		case settingApprovalRequired:
			s.ApprovalRequired = value == "true"
		case settingTimeoutSeconds:
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return s, fmt.Errorf("invalid %s value %q", key, value)
			}
			s.TimeoutSeconds = n
		}
	}
	return s, rows.Err()
}

func transferSettingValues(s model.TransferSettings) map[string]string {
	return map[string]string{
		settingApprovalRequired: strconv.FormatBool(s.ApprovalRequired),
		settingTimeoutSeconds:   strconv.Itoa(s.TimeoutSeconds),
	}
}
