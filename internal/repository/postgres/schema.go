package postgres

import (
	"context"
	"fmt"
	"time"

	"sms-bridge/internal/client"
	"sms-bridge/internal/util"
)

// schema is applied at startup. Statements are idempotent so concurrent
// instances can race on boot without harm.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS settings_history (
		version_id  SERIAL PRIMARY KEY,
		payload     JSONB NOT NULL,
		is_active   BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_by  VARCHAR(50),
		change_note TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_settings_active ON settings_history (is_active) WHERE is_active`,

	`CREATE TABLE IF NOT EXISTS backup_users (
		mobile     VARCHAR(20) NOT NULL,
		pin_hash   VARCHAR(255) NOT NULL,
		token      VARCHAR(32) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		synced_at  TIMESTAMPTZ,
		PRIMARY KEY (mobile, token)
	)`,

	`CREATE TABLE IF NOT EXISTS power_down_store (
		key_name             VARCHAR(255) PRIMARY KEY,
		key_type             VARCHAR(20) NOT NULL,
		value                JSONB NOT NULL,
		original_ttl_seconds BIGINT NOT NULL DEFAULT 0,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS blacklist_mobiles (
		mobile     VARCHAR(20) PRIMARY KEY,
		reason     TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_by VARCHAR(50)
	)`,

	`CREATE TABLE IF NOT EXISTS pending_sms (
		message_id  VARCHAR(36) PRIMARY KEY,
		mobile      VARCHAR(20) NOT NULL,
		body        TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the durable-store tables when missing.
func EnsureSchema(ctx context.Context, pg *client.PostgresClient) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, stmt := range schema {
		if _, err := pg.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	util.Info("Durable-store schema ensured")
	return nil
}
