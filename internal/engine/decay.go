package engine

// Salience decay:
//   - Exponential per-sector half-life, measured from the memory's decay clock
//   - Memories reinforced after the previous cycle are skipped this cycle
//   - Monotone: a cycle never raises salience
//   - Written with compare-and-set on the decay clock so a concurrent
//     reinforcement always wins
//   - Driven by decay.Scheduler through the decay.Task interface

import (
	"context"
	"log"
	"time"

	"github.com/lazypower/mnemo/internal/decay"
)

// SalienceTask adapts the engine to decay.Task.
type SalienceTask struct {
	e *Engine
}

// DecayTask returns the engine's salience decay task.
func (e *Engine) DecayTask() *SalienceTask {
	return &SalienceTask{e: e}
}

func (t *SalienceTask) Name() string { return "salience" }

// DecayNamespace decays every eligible memory in ns. Per-record failures
// are counted and do not stop the pass.
func (t *SalienceTask) DecayNamespace(ctx context.Context, ns string, since, now time.Time) (decay.Report, error) {
	var r decay.Report
	now = now.Truncate(time.Millisecond)
	targets, err := t.e.DB.DecayTargets(ctx, ns, since)
	if err != nil {
		return r, err
	}
	for _, tg := range targets {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		r.Examined++
		elapsed := now.Sub(tg.DecayedAt)
		next := decay.Apply(tg.Salience, elapsed, t.e.halfLives.For(tg.PrimarySector))
		if elapsed <= 0 || next >= tg.Salience {
			r.Skipped++
			continue
		}
		ok, err := t.e.DB.ApplyDecay(ctx, tg.ID, tg.DecayedAt, next, now)
		if err != nil {
			r.Failed++
			log.Printf("decay: %s/%s: %v", ns, tg.ID, err)
			continue
		}
		if !ok {
			r.Skipped++
			continue
		}
		r.Decayed++
	}
	return r, nil
}
