package domain

import (
	"context"

	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// ListFilter narrows case queries to an actor's visibility scope.
type ListFilter struct {
	// RegionIDs restricts to these regions; nil means unrestricted.
	RegionIDs []types.ID
	// DCAID restricts to cases assigned to one agency when non-zero.
	DCAID  types.ID
	Status Status
	Limit  int
	Offset int
}

// Repository is the case persistence boundary.
type Repository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id types.ID) (*Case, error)
	GetByNumber(ctx context.Context, caseNumber string) (*Case, error)
	List(ctx context.Context, filter ListFilter) ([]Case, int, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status) error
	BindAllocation(ctx context.Context, caseID, dcaID types.ID, score float64, reason string) error
}

// TimelineRepository stores the append-only case history.
type TimelineRepository interface {
	Append(ctx context.Context, entry *TimelineEntry) error
	ListByCase(ctx context.Context, caseID types.ID) ([]TimelineEntry, error)
}
