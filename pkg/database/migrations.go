package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateSearchIndexes creates full-text search GIN indexes on the free-text
// columns operators are most likely to grep across: turn transcripts and
// command instructions/output. Run once after migrations, idempotently.
func CreateSearchIndexes(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_turns_text_gin
		ON turns USING gin(to_tsvector('english', text))`,
		`CREATE INDEX IF NOT EXISTS idx_commands_instruction_gin
		ON commands USING gin(to_tsvector('english', COALESCE(instruction, '')))`,
		`CREATE INDEX IF NOT EXISTS idx_commands_full_output_gin
		ON commands USING gin(to_tsvector('english', COALESCE(full_output, '')))`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create search index: %w", err)
		}
	}
	return nil
}
