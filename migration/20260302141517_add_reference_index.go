package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAddReferenceIndex, downAddReferenceIndex)
}

func upAddReferenceIndex(ctx context.Context, tx *sql.Tx) error {
	// Support staff look quotes up by their customer-facing reference,
	// so give that column its own index.
	_, err := tx.ExecContext(ctx, `CREATE INDEX idx_quotes_reference ON quotes(reference);`)
	if err != nil {
		return err
	}
	return nil
}

func downAddReferenceIndex(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS idx_quotes_reference;`)
	if err != nil {
		return err
	}
	return nil
}
