package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// ErrDuplicateTurn is returned when the partial unique index on
// (command_id, jsonl_entry_hash) rejects a turn already recorded under that
// hash — the storage-level half of the correlator's two-mechanism
// deduplication.
var ErrDuplicateTurn = errors.New("store: duplicate turn")

const uniqueViolation = "23505"

// TurnStore persists Turn rows.
type TurnStore struct {
	db *sql.DB
}

// NewTurnStore builds a TurnStore.
func NewTurnStore(db *sql.DB) *TurnStore {
	return &TurnStore{db: db}
}

// Insert records a turn. jsonlEntryHash may be empty for turns sourced
// purely from a hook with no corresponding JSONL line. ErrDuplicateTurn
// means the row was not inserted because a matching hash already exists
// under the same command — callers should treat this as a silent skip,
// not a failure.
func (s *TurnStore) Insert(ctx context.Context, q querier, t *models.Turn) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO turns (command_id, actor, intent, text, "timestamp", timestamp_source,
		                    jsonl_entry_hash, is_internal, tool_input, file_metadata, answered_by_turn_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		t.CommandID, t.Actor, t.Intent, t.Text, t.Timestamp, t.TimestampSource,
		t.JSONLEntryHash, t.IsInternal, nullableJSON(t.ToolInput), nullableJSON(t.FileMetadata), t.AnsweredByTurnID,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrDuplicateTurn
		}
		return 0, fmt.Errorf("insert turn: %w", err)
	}
	return id, nil
}

// SetSummary records the oracle-generated summary for a turn.
func (s *TurnStore) SetSummary(ctx context.Context, turnID int64, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE turns SET summary = $2, summary_generated_at = now() WHERE id = $1`,
		turnID, summary)
	if err != nil {
		return fmt.Errorf("set turn summary: %w", err)
	}
	return nil
}

// RecentUnsummarized returns turns with non-trivial text and no summary yet,
// oldest first, for the summariser's sweep.
func (s *TurnStore) RecentUnsummarized(ctx context.Context, limit int) ([]*models.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command_id, actor, intent, text, "timestamp", timestamp_source,
		       jsonl_entry_hash, is_internal, tool_input, file_metadata,
		       answered_by_turn_id, summary, summary_generated_at
		FROM turns WHERE summary IS NULL AND length(text) > 0
		ORDER BY "timestamp" ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsummarized turns: %w", err)
	}
	defer rows.Close()

	var out []*models.Turn
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.ID, &t.CommandID, &t.Actor, &t.Intent, &t.Text, &t.Timestamp, &t.TimestampSource,
			&t.JSONLEntryHash, &t.IsInternal, &t.ToolInput, &t.FileMetadata,
			&t.AnsweredByTurnID, &t.Summary, &t.SummaryGeneratedAt); err != nil {
			return nil, fmt.Errorf("scan unsummarized turn: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// CountForCommand reports how many turns a command has recorded, used by
// the card projector's turn_count field.
func (s *TurnStore) CountForCommand(ctx context.Context, commandID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM turns WHERE command_id = $1`, commandID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count turns for command: %w", err)
	}
	return count, nil
}

// LastTimestampForCommand returns the timestamp of the most recent turn
// recorded for a command, used by the card projector to derive the
// TIMED_OUT state from how long a PROCESSING command has gone quiet.
func (s *TurnStore) LastTimestampForCommand(ctx context.Context, commandID int64) (time.Time, bool, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT "timestamp" FROM turns WHERE command_id = $1 ORDER BY "timestamp" DESC LIMIT 1`, commandID).Scan(&ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("last turn timestamp for command: %w", err)
	}
	return ts, true, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// RecentForCommand returns the most recent turns for a command, newest
// first, used by the correlator to resolve answered_by_turn_id back-
// references against the last open question.
func (s *TurnStore) RecentForCommand(ctx context.Context, commandID int64, limit int) ([]*models.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command_id, actor, intent, text, "timestamp", timestamp_source,
		       jsonl_entry_hash, is_internal, tool_input, file_metadata,
		       answered_by_turn_id, summary, summary_generated_at
		FROM turns WHERE command_id = $1 ORDER BY "timestamp" DESC LIMIT $2`,
		commandID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	var out []*models.Turn
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.ID, &t.CommandID, &t.Actor, &t.Intent, &t.Text, &t.Timestamp, &t.TimestampSource,
			&t.JSONLEntryHash, &t.IsInternal, &t.ToolInput, &t.FileMetadata,
			&t.AnsweredByTurnID, &t.Summary, &t.SummaryGeneratedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
