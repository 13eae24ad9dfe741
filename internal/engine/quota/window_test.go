package quota

import (
	"testing"
	"time"
)

func TestWindowBounds(t *testing.T) {
	now := time.Date(2026, 12, 31, 23, 59, 59, 0, time.FixedZone("EST", -5*3600))

	start, end := WindowMonthly.Bounds(now)
	if want := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("monthly start = %v, want %v", start, want)
	}
	if want := time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("monthly end = %v, want %v", end, want)
	}

	start, end = WindowMinute.Bounds(now)
	if want := time.Date(2027, 1, 1, 4, 59, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("minute start = %v, want %v", start, want)
	}
	if end.Sub(start) != time.Minute {
		t.Errorf("minute window length = %v", end.Sub(start))
	}
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 30, 0, time.UTC)
	minuteStart, _ := WindowMinute.Bounds(now)
	limits := []Limit{{Window: WindowMonthly, Max: 5}, {Window: WindowMinute, Max: 2}}

	tests := []struct {
		name      string
		states    []WindowState
		consume   bool
		admitted  bool
		rejected  Window
		wantUsage []int64
	}{
		{
			name:      "fresh credential",
			states:    make([]WindowState, 2),
			consume:   true,
			admitted:  true,
			wantUsage: []int64{1, 1},
		},
		{
			name:      "minute exhausted",
			states:    []WindowState{{Usage: 2, WindowStart: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}, {Usage: 2, WindowStart: minuteStart}},
			consume:   true,
			rejected:  WindowMinute,
			wantUsage: []int64{2, 2},
		},
		{
			name:      "expired minute resets before check",
			states:    []WindowState{{Usage: 2, WindowStart: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}, {Usage: 2, WindowStart: minuteStart.Add(-time.Minute)}},
			consume:   true,
			admitted:  true,
			wantUsage: []int64{3, 1},
		},
		{
			name:      "monthly exhausted wins",
			states:    []WindowState{{Usage: 5, WindowStart: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}, {Usage: 2, WindowStart: minuteStart}},
			consume:   true,
			rejected:  WindowMonthly,
			wantUsage: []int64{5, 2},
		},
		{
			name:      "peek does not consume",
			states:    make([]WindowState, 2),
			consume:   false,
			admitted:  true,
			wantUsage: []int64{0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, out := Evaluate(tt.states, limits, now, tt.consume)
			if out.Admitted != tt.admitted {
				t.Fatalf("Admitted = %v, want %v", out.Admitted, tt.admitted)
			}
			if out.Rejected != tt.rejected {
				t.Errorf("Rejected = %q, want %q", out.Rejected, tt.rejected)
			}
			for i, want := range tt.wantUsage {
				if out.Windows[i].Used != want {
					t.Errorf("window %d used = %d, want %d", i, out.Windows[i].Used, want)
				}
				if tt.consume && tt.admitted && next[i].Usage != want {
					t.Errorf("window %d state = %d, want %d", i, next[i].Usage, want)
				}
			}
		})
	}
}
