package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleStore_GetOrCreateByName(t *testing.T) {
	client := newTestDatabaseClient(t)
	roles := NewRoleStore(client.DB())

	first, err := roles.GetOrCreateByName(context.Background(), "backend-engineer")
	require.NoError(t, err)
	assert.Equal(t, "backend-engineer", first.Name)
	assert.Greater(t, first.OrganisationID, int64(0))

	second, err := roles.GetOrCreateByName(context.Background(), "backend-engineer")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.OrganisationID, second.OrganisationID)

	other, err := roles.GetOrCreateByName(context.Background(), "qa-engineer")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Equal(t, first.OrganisationID, other.OrganisationID)
}

func TestActivityStore_RecentAndForProject(t *testing.T) {
	client := newTestDatabaseClient(t)
	projectID := seedProject(t, client)
	activity := NewActivityStore(client.DB())

	now := time.Now().UTC().Truncate(time.Minute)
	_, err := client.DB().ExecContext(context.Background(), `
		INSERT INTO activity_metrics (bucket_start, is_overall, project_id, command_count, turn_count)
		VALUES ($1, FALSE, $2, 3, 9)`,
		now, projectID)
	require.NoError(t, err)

	_, err = client.DB().ExecContext(context.Background(), `
		INSERT INTO activity_metrics (bucket_start, is_overall, command_count, turn_count)
		VALUES ($1, TRUE, 5, 12)`,
		now)
	require.NoError(t, err)

	overall, err := activity.Recent(context.Background(), now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, overall, 1)
	assert.Equal(t, 5, overall[0].CommandCount)

	perProject, err := activity.ForProject(context.Background(), projectID, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, perProject, 1)
	assert.Equal(t, 3, perProject[0].CommandCount)

	none, err := activity.Recent(context.Background(), now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
