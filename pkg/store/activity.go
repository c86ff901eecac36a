package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/samotage/claude-headspace-sub003/pkg/models"
)

// ActivityStore queries ActivityMetric rows. Rows are written by the
// objective scorer's bucket aggregation; this store is read-only.
type ActivityStore struct {
	db *sql.DB
}

// NewActivityStore builds an ActivityStore.
func NewActivityStore(db *sql.DB) *ActivityStore {
	return &ActivityStore{db: db}
}

const activitySelect = `
	SELECT id, bucket_start, is_overall, agent_id, project_id,
	       command_count, turn_count, total_frustration, max_frustration,
	       max_frustration_at, frustration_turn_count
	FROM activity_metrics`

func scanActivityRows(rows *sql.Rows) ([]*models.ActivityMetric, error) {
	defer rows.Close()
	var out []*models.ActivityMetric
	for rows.Next() {
		var m models.ActivityMetric
		if err := rows.Scan(&m.ID, &m.BucketStart, &m.IsOverall, &m.AgentID, &m.ProjectID,
			&m.CommandCount, &m.TurnCount, &m.TotalFrustration, &m.MaxFrustration,
			&m.MaxFrustrationAt, &m.FrustrationTurnCount); err != nil {
			return nil, fmt.Errorf("scan activity metric row: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Recent returns the overall (cross-project) activity buckets with a start
// time at or after since, most recent first.
func (s *ActivityStore) Recent(ctx context.Context, since time.Time, limit int) ([]*models.ActivityMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		activitySelect+` WHERE is_overall = TRUE AND bucket_start >= $1
		ORDER BY bucket_start DESC LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent activity: %w", err)
	}
	return scanActivityRows(rows)
}

// ForProject returns a project's own activity buckets with a start time at
// or after since, most recent first.
func (s *ActivityStore) ForProject(ctx context.Context, projectID int64, since time.Time, limit int) ([]*models.ActivityMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		activitySelect+` WHERE project_id = $1 AND bucket_start >= $2
		ORDER BY bucket_start DESC LIMIT $3`,
		projectID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list project activity: %w", err)
	}
	return scanActivityRows(rows)
}
