package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// APICallLogStore persists the API call logger's transaction records.
type APICallLogStore struct {
	db *sql.DB
}

// NewAPICallLogStore builds an APICallLogStore.
func NewAPICallLogStore(db *sql.DB) *APICallLogStore {
	return &APICallLogStore{db: db}
}

// Create records one logged HTTP transaction.
func (s *APICallLogStore) Create(ctx context.Context, l *models.APICallLog) (*models.APICallLog, error) {
	var out models.APICallLog
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO api_call_logs (method, path, status, latency_ms, auth_status, request_body, response_body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, method, path, status, latency_ms, auth_status, request_body, response_body, created_at`,
		l.Method, l.Path, l.Status, l.LatencyMS, l.AuthStatus, l.RequestBody, l.ResponseBody,
	).Scan(&out.ID, &out.Method, &out.Path, &out.Status, &out.LatencyMS, &out.AuthStatus,
		&out.RequestBody, &out.ResponseBody, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create api call log: %w", err)
	}
	return &out, nil
}
