package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upInitTables, downInitTables)
}

func upInitTables(ctx context.Context, tx *sql.Tx) error {
	// Create guest_sessions table
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE guest_sessions (
			id UUID PRIMARY KEY,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return err
	}

	// Create quotes table
	_, err = tx.ExecContext(ctx, `
		CREATE TABLE quotes (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL,
			quote_type VARCHAR(32) NOT NULL,
			reference VARCHAR(64) NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT fk_quotes_session
				FOREIGN KEY(session_id)
				REFERENCES guest_sessions(id)
				ON UPDATE CASCADE
				ON DELETE CASCADE
		);
	`)
	if err != nil {
		return err
	}

	// One quote per type per session
	_, err = tx.ExecContext(ctx, `CREATE UNIQUE INDEX idx_quotes_session_type ON quotes(session_id, quote_type);`)
	if err != nil {
		return err
	}

	return nil
}

func downInitTables(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS quotes;`)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DROP TABLE IF EXISTS guest_sessions;`)
	if err != nil {
		return err
	}
	return nil
}
