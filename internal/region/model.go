package region

import (
	"fmt"
	"time"

	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Region is an operational territory. Case ingestion validates every payload's
// region code against this registry, and SLA deadlines are computed in the
// region's local business calendar.
type Region struct {
	ID            types.ID  `json:"id"`
	RegionCode    string    `json:"region_code"`
	Name          string    `json:"name"`
	Timezone      string    `json:"timezone"`
	BusinessStart string    `json:"business_start"` // "HH:MM", local time
	BusinessEnd   string    `json:"business_end"`   // "HH:MM", exclusive
	BusinessDays  []int     `json:"business_days"`  // time.Weekday values, 1=Monday
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// Location resolves the region's IANA timezone.
func (r *Region) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("region %s: invalid timezone %q: %w", r.RegionCode, r.Timezone, err)
	}
	return loc, nil
}

// BusinessWindow parses the configured start and end of the business day as
// minutes from local midnight.
func (r *Region) BusinessWindow() (startMin, endMin int, err error) {
	startMin, err = parseClockMinutes(r.BusinessStart)
	if err != nil {
		return 0, 0, fmt.Errorf("region %s: invalid business_start: %w", r.RegionCode, err)
	}
	endMin, err = parseClockMinutes(r.BusinessEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("region %s: invalid business_end: %w", r.RegionCode, err)
	}
	return startMin, endMin, nil
}

// IsBusinessDay reports whether the weekday is part of the region's working
// week.
func (r *Region) IsBusinessDay(day time.Weekday) bool {
	for _, d := range r.BusinessDays {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}

func parseClockMinutes(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range: %q", s)
	}
	return h*60 + m, nil
}
