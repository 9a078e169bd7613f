package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/fedex-dca/control-tower/internal/region"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// maxIterationDays caps the business-minute walk so a misconfigured region
// (no business days, inverted window) cannot loop forever.
const maxIterationDays = 90

// RegionSource is the region registry lookup the engine depends on.
type RegionSource interface {
	GetByID(ctx context.Context, id types.ID) (*region.Region, error)
}

// Engine computes SLA deadlines and breach durations in each region's local
// business calendar. A DCA is never penalized for hours outside its region's
// working day, which is why deadlines are counted in business minutes rather
// than wall-clock time.
type Engine struct {
	regions RegionSource
	now     func() time.Time
}

// NewEngine creates an SLA timing engine.
func NewEngine(regions RegionSource) *Engine {
	return &Engine{regions: regions, now: time.Now}
}

// Timing is a computed SLA window.
type Timing struct {
	StartedAt time.Time `json:"started_at"`
	DueAt     time.Time `json:"due_at"`
}

// CalculateTiming computes the due instant for a duration starting now.
// Wall-clock mode is plain addition; business-hours mode walks forward minute
// by minute counting only minutes inside the region's working window.
func (e *Engine) CalculateTiming(ctx context.Context, regionID types.ID, durationHours int, businessHoursOnly bool) (*Timing, error) {
	start := e.now().UTC()

	if !businessHoursOnly {
		return &Timing{
			StartedAt: start,
			DueAt:     start.Add(time.Duration(durationHours) * time.Hour),
		}, nil
	}

	reg, err := e.regions.GetByID(ctx, regionID)
	if err != nil {
		return nil, err
	}

	due, err := addBusinessMinutes(start, reg, durationHours*60)
	if err != nil {
		return nil, err
	}

	return &Timing{StartedAt: start, DueAt: due}, nil
}

// Breach describes an SLA breach check result.
type Breach struct {
	Breached bool `json:"breached"`
	// Minutes overdue: wall-clock, or business minutes when the SLA is
	// business-hours scoped.
	OverdueMinutes int `json:"overdue_minutes"`
}

// CheckBreach reports whether a due instant has passed and by how much.
func (e *Engine) CheckBreach(ctx context.Context, dueAt time.Time, regionID types.ID, businessHoursOnly bool) (*Breach, error) {
	now := e.now().UTC()
	if !now.After(dueAt) {
		return &Breach{}, nil
	}

	if !businessHoursOnly {
		return &Breach{
			Breached:       true,
			OverdueMinutes: int(now.Sub(dueAt) / time.Minute),
		}, nil
	}

	reg, err := e.regions.GetByID(ctx, regionID)
	if err != nil {
		return nil, err
	}

	minutes, err := countBusinessMinutes(dueAt, now, reg)
	if err != nil {
		return nil, err
	}

	return &Breach{Breached: true, OverdueMinutes: minutes}, nil
}

// IsWithinBusinessHours reports whether a UTC instant falls inside the
// region's local working window. The window is half-open: the start minute
// counts, the end minute does not.
func IsWithinBusinessHours(instant time.Time, reg *region.Region) (bool, error) {
	loc, err := reg.Location()
	if err != nil {
		return false, err
	}
	startMin, endMin, err := reg.BusinessWindow()
	if err != nil {
		return false, err
	}

	local := instant.In(loc)
	if !reg.IsBusinessDay(local.Weekday()) {
		return false, nil
	}

	minuteOfDay := local.Hour()*60 + local.Minute()
	return minuteOfDay >= startMin && minuteOfDay < endMin, nil
}

// addBusinessMinutes walks forward from start until the required number of
// in-window minutes has elapsed.
func addBusinessMinutes(start time.Time, reg *region.Region, minutes int) (time.Time, error) {
	cursor := start
	deadline := start.AddDate(0, 0, maxIterationDays)
	remaining := minutes

	for remaining > 0 {
		if cursor.After(deadline) {
			return time.Time{}, fmt.Errorf("sla due time exceeds %d-day horizon for region %s", maxIterationDays, reg.RegionCode)
		}
		within, err := IsWithinBusinessHours(cursor, reg)
		if err != nil {
			return time.Time{}, err
		}
		if within {
			remaining--
		}
		cursor = cursor.Add(time.Minute)
	}

	return cursor, nil
}

// countBusinessMinutes counts in-window minutes between two instants, capped
// at the iteration horizon.
func countBusinessMinutes(from, to time.Time, reg *region.Region) (int, error) {
	if !to.After(from) {
		return 0, nil
	}

	deadline := from.AddDate(0, 0, maxIterationDays)
	if to.After(deadline) {
		to = deadline
	}

	count := 0
	for cursor := from; cursor.Before(to); cursor = cursor.Add(time.Minute) {
		within, err := IsWithinBusinessHours(cursor, reg)
		if err != nil {
			return 0, err
		}
		if within {
			count++
		}
	}
	return count, nil
}
