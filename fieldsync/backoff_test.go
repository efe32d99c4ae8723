package fieldsync

import (
	"testing"
	"time"
)

func TestUnjitteredDelayCurve(t *testing.T) {
	cfg := DefaultBackoffConfig()

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first attempt", 0, time.Second},
		{"second attempt", 1, 2 * time.Second},
		{"third attempt", 2, 4 * time.Second},
		{"fourth attempt", 3, 8 * time.Second},
		{"fifth attempt", 4, 16 * time.Second},
		{"capped at max", 5, 30 * time.Second},
		{"stays capped", 10, 30 * time.Second},
		{"negative treated as zero", -3, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UnjitteredDelay(tt.attempt, cfg)
			if got != tt.want {
				t.Errorf("UnjitteredDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestUnjitteredDelayMonotonic(t *testing.T) {
	cfg := BackoffConfig{
		BaseDelay:     250 * time.Millisecond,
		Multiplier:    1.7,
		MaxDelay:      20 * time.Second,
		JitterPercent: 0.2,
		MaxRetries:    8,
	}

	prev := time.Duration(-1)
	for attempt := 0; attempt < 30; attempt++ {
		d := UnjitteredDelay(attempt, cfg)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > cfg.MaxDelay {
			t.Fatalf("delay at attempt %d exceeds cap: %v > %v", attempt, d, cfg.MaxDelay)
		}
		prev = d
	}
}

func TestDelayJitterBounds(t *testing.T) {
	cfg := DefaultBackoffConfig()

	for attempt := 0; attempt < 8; attempt++ {
		base := UnjitteredDelay(attempt, cfg)
		lower := time.Duration(float64(base) * (1 - cfg.JitterPercent))
		upper := time.Duration(float64(base) * (1 + cfg.JitterPercent))

		for i := 0; i < 200; i++ {
			d := Delay(attempt, cfg)
			// Flooring to whole milliseconds can only shrink the value.
			if d < lower-time.Millisecond || d > upper {
				t.Fatalf("Delay(%d) = %v outside [%v, %v]", attempt, d, lower, upper)
			}
			if d%time.Millisecond != 0 {
				t.Fatalf("Delay(%d) = %v is not a whole millisecond", attempt, d)
			}
		}
	}
}

func TestDelayWithFixedRand(t *testing.T) {
	cfg := DefaultBackoffConfig()

	tests := []struct {
		name      string
		randFloat func() float64
		attempt   int
		want      time.Duration
	}{
		{"midpoint is unjittered", func() float64 { return 0.5 }, 0, time.Second},
		{"full positive jitter", func() float64 { return 1 }, 0, 1200 * time.Millisecond},
		{"full negative jitter", func() float64 { return 0 }, 0, 800 * time.Millisecond},
		{"capped then jittered", func() float64 { return 1 }, 10, 36 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := delayWithRand(tt.attempt, cfg, tt.randFloat)
			if got != tt.want {
				t.Errorf("delayWithRand(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestBackoffConfigNormalized(t *testing.T) {
	got := BackoffConfig{}.normalized()
	want := DefaultBackoffConfig()
	if got != want {
		t.Errorf("zero config normalized to %+v, want defaults %+v", got, want)
	}

	partial := BackoffConfig{BaseDelay: 100 * time.Millisecond, JitterPercent: -0.5}.normalized()
	if partial.BaseDelay != 100*time.Millisecond {
		t.Errorf("BaseDelay overwritten: got %v", partial.BaseDelay)
	}
	if partial.JitterPercent != 0 {
		t.Errorf("negative jitter not clamped: got %v", partial.JitterPercent)
	}
	if partial.MaxRetries != want.MaxRetries {
		t.Errorf("MaxRetries = %d, want default %d", partial.MaxRetries, want.MaxRetries)
	}
}
