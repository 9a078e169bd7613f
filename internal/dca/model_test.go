package dca

import "testing"

func TestUtilizationPct(t *testing.T) {
	tests := []struct {
		name  string
		used  int
		limit int
		want  float64
	}{
		{"empty", 0, 100, 0},
		{"tenth", 10, 100, 10},
		{"near full", 90, 100, 90},
		{"full", 100, 100, 100},
		{"zero limit treated as saturated", 0, 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &DCA{CapacityUsed: tt.used, CapacityLimit: tt.limit}
			if got := d.UtilizationPct(); got != tt.want {
				t.Errorf("UtilizationPct() = %v, want %v", got, tt.want)
			}

			c := &Candidate{CapacityUsed: tt.used, CapacityLimit: tt.limit}
			if got := c.UtilizationPct(); got != tt.want {
				t.Errorf("Candidate.UtilizationPct() = %v, want %v", got, tt.want)
			}
		})
	}
}
