package decay

import (
	"math"
	"testing"
	"time"
)

func TestFactor(t *testing.T) {
	h := 10 * time.Hour
	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 1},
		{-time.Hour, 1},
		{h, 0.5},
		{2 * h, 0.25},
		{h / 2, math.Sqrt(0.5)},
	}
	for _, tt := range tests {
		if got := Factor(tt.elapsed, h); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Factor(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

func TestApplyMonotone(t *testing.T) {
	h := 7 * 24 * time.Hour
	v := 0.9
	for i := 0; i < 50; i++ {
		next := Apply(v, time.Duration(i+1)*time.Hour, h)
		if next > v {
			t.Fatalf("step %d: %v increased to %v", i, v, next)
		}
		if next < 0 {
			t.Fatalf("step %d: negative %v", i, next)
		}
		v = next
	}
	if Apply(0, time.Hour, h) != 0 {
		t.Error("zero should stay zero")
	}
}

func TestApplyCompounds(t *testing.T) {
	// Two cycles of Δt equal one cycle of 2Δt.
	h := 5 * time.Hour
	once := Apply(0.8, 4*time.Hour, h)
	twice := Apply(Apply(0.8, 2*time.Hour, h), 2*time.Hour, h)
	if math.Abs(once-twice) > 1e-12 {
		t.Errorf("once = %v, twice = %v", once, twice)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-0.5, 0}, {0, 0}, {0.3, 0.3}, {1, 1}, {1.7, 1}, {math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
