package region

import (
	"testing"
	"time"
)

func TestBusinessWindow(t *testing.T) {
	tests := []struct {
		name      string
		start     string
		end       string
		wantStart int
		wantEnd   int
		wantErr   bool
	}{
		{"standard day", "09:00", "18:00", 540, 1080, false},
		{"half hours", "08:30", "17:45", 510, 1065, false},
		{"bad format", "9am", "18:00", 0, 0, true},
		{"out of range", "25:00", "18:00", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Region{RegionCode: "TEST", BusinessStart: tt.start, BusinessEnd: tt.end}
			start, end, err := r.BusinessWindow()
			if (err != nil) != tt.wantErr {
				t.Fatalf("BusinessWindow() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (start != tt.wantStart || end != tt.wantEnd) {
				t.Errorf("BusinessWindow() = (%d, %d), want (%d, %d)", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestIsBusinessDay(t *testing.T) {
	r := &Region{BusinessDays: []int{1, 2, 3, 4, 5}}

	if !r.IsBusinessDay(time.Monday) || !r.IsBusinessDay(time.Friday) {
		t.Error("weekdays should be business days")
	}
	if r.IsBusinessDay(time.Saturday) || r.IsBusinessDay(time.Sunday) {
		t.Error("weekend should not be business days")
	}

	empty := &Region{}
	if empty.IsBusinessDay(time.Monday) {
		t.Error("region with no business days should report none")
	}
}

func TestLocation(t *testing.T) {
	good := &Region{RegionCode: "IN-N", Timezone: "Asia/Kolkata"}
	if _, err := good.Location(); err != nil {
		t.Fatalf("Location() error = %v", err)
	}

	bad := &Region{RegionCode: "XX", Timezone: "Not/AZone"}
	if _, err := bad.Location(); err == nil {
		t.Fatal("invalid timezone should error")
	}
}
