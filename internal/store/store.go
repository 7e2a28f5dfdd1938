package store

import (
	"context"

	"github.com/speccheck/speccheck/internal/models"
)

// ListFilter specifies filters for listing archived checks.
type ListFilter struct {
	State      models.CheckState
	Repository string
	Limit      int
	Offset     int
}

// Store archives terminal checks and their rendered reports so results
// survive a process restart. The live registry stays in memory; the store
// is consulted only for checks the registry no longer knows.
type Store interface {
	SaveCheck(ctx context.Context, c *models.Check, report string) error
	GetCheck(ctx context.Context, id string) (*models.Check, string, error)
	ListChecks(ctx context.Context, filter ListFilter) ([]*models.Check, error)
	DeleteCheck(ctx context.Context, id string) error

	Migrate(ctx context.Context) error
	Close() error
}
