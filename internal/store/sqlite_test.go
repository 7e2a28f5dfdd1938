package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speccheck/speccheck/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func terminalCheck(id string, state models.CheckState) *models.Check {
	now := time.Now().UTC().Truncate(time.Second)
	done := now.Add(time.Minute)
	return &models.Check{
		ID: id,
		Request: models.CheckRequest{
			RepositoryURL: "https://example.com/a.git",
			Branch:        "main",
			SpecFiles:     []string{"spec/api-spec.md"},
		},
		Repository:  "a",
		State:       state,
		Issues: []models.Issue{
			{Severity: models.SeverityHigh, Type: models.IssueTypeMissingImplementation, RequirementID: "API-1", SpecFile: "spec/api-spec.md", Description: "no auth"},
		},
		Warnings:    []string{"analysis backend unavailable for 1 requirements"},
		AcceptedAt:  now,
		StartedAt:   &now,
		CompletedAt: &done,
	}
}

func TestSaveAndGetCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := terminalCheck("chk_1", models.CheckStateCompleted)
	require.NoError(t, s.SaveCheck(ctx, c, "# Report\n"))

	got, report, err := s.GetCheck(ctx, "chk_1")
	require.NoError(t, err)
	assert.Equal(t, "# Report\n", report)
	assert.Equal(t, models.CheckStateCompleted, got.State)
	assert.Equal(t, "https://example.com/a.git", got.Request.RepositoryURL)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, "API-1", got.Issues[0].RequirementID)
	assert.Equal(t, c.Warnings, got.Warnings)
	require.NotNil(t, got.CompletedAt)
}

func TestGetCheck_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.GetCheck(context.Background(), "chk_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveCheck_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := terminalCheck("chk_1", models.CheckStateCompleted)
	require.NoError(t, s.SaveCheck(ctx, c, "v1"))
	require.NoError(t, s.SaveCheck(ctx, c, "v2"))

	_, report, err := s.GetCheck(ctx, "chk_1")
	require.NoError(t, err)
	assert.Equal(t, "v2", report)

	checks, err := s.ListChecks(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, checks, 1)
}

func TestListChecks_FiltersAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := terminalCheck("chk_a", models.CheckStateCompleted)
	b := terminalCheck("chk_b", models.CheckStateFailed)
	b.Repository = "other"
	b.AcceptedAt = a.AcceptedAt.Add(time.Minute)
	require.NoError(t, s.SaveCheck(ctx, a, ""))
	require.NoError(t, s.SaveCheck(ctx, b, ""))

	all, err := s.ListChecks(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "chk_b", all[0].ID, "newest first")

	failed, err := s.ListChecks(ctx, ListFilter{State: models.CheckStateFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "chk_b", failed[0].ID)

	byRepo, err := s.ListChecks(ctx, ListFilter{Repository: "other"})
	require.NoError(t, err)
	require.Len(t, byRepo, 1)

	page, err := s.ListChecks(ctx, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "chk_a", page[0].ID)
}

func TestDeleteCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCheck(ctx, terminalCheck("chk_1", models.CheckStateCompleted), ""))
	require.NoError(t, s.DeleteCheck(ctx, "chk_1"))

	_, _, err := s.GetCheck(ctx, "chk_1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an unknown id is not an error.
	require.NoError(t, s.DeleteCheck(ctx, "chk_1"))
}
