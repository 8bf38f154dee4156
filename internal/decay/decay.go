// Package decay holds the half-life arithmetic shared by salience and fact
// confidence decay, and the Scheduler that runs decay cycles per namespace.
//
// Decay is never applied inline on the read path. A cycle walks every
// registered namespace and hands each one to every registered Task; a
// failing record or namespace is logged and counted but never stops the
// rest of the cycle.
package decay

import (
	"math"
	"time"
)

// Factor returns 2^(-elapsed/halfLife), the fraction of a value that
// remains after elapsed time. A non-positive elapsed returns 1, so decay
// can never increase a value.
func Factor(elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 || halfLife <= 0 {
		return 1
	}
	return math.Exp2(-float64(elapsed) / float64(halfLife))
}

// Apply decays v by elapsed time and clamps the result to [0, v].
func Apply(v float64, elapsed, halfLife time.Duration) float64 {
	if v <= 0 {
		return 0
	}
	out := v * Factor(elapsed, halfLife)
	if out > v {
		return v
	}
	if out < 0 {
		return 0
	}
	return out
}

// Clamp bounds v to [0, 1].
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Report summarizes one task's pass over one namespace.
type Report struct {
	Examined int `json:"examined"`
	Decayed  int `json:"decayed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Add accumulates r2 into r.
func (r *Report) Add(r2 Report) {
	r.Examined += r2.Examined
	r.Decayed += r2.Decayed
	r.Skipped += r2.Skipped
	r.Failed += r2.Failed
}
