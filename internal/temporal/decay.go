package temporal

import (
	"context"
	"log"
	"time"

	"github.com/lazypower/mnemo/internal/decay"
)

// ConfidenceTask decays the confidence of open facts older than
// Facts.DecayAfter. Closed facts keep the confidence they closed with.
type ConfidenceTask struct {
	s *Service
}

// DecayTask returns the service's confidence decay task.
func (s *Service) DecayTask() *ConfidenceTask {
	return &ConfidenceTask{s: s}
}

func (t *ConfidenceTask) Name() string { return "confidence" }

// DecayNamespace implements decay.Task.
func (t *ConfidenceTask) DecayNamespace(ctx context.Context, ns string, _, now time.Time) (decay.Report, error) {
	var r decay.Report
	now = now.Truncate(time.Millisecond)
	targets, err := t.s.DB.FactDecayTargets(ctx, ns, now.Add(-t.s.cfg.DecayAfter.Duration))
	if err != nil {
		return r, err
	}
	for _, tg := range targets {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		r.Examined++
		elapsed := now.Sub(tg.Anchor)
		next := decay.Apply(tg.Confidence, elapsed, t.s.cfg.HalfLife.Duration)
		if elapsed <= 0 || next >= tg.Confidence {
			r.Skipped++
			continue
		}
		ok, err := t.s.DB.ApplyFactDecay(ctx, tg.ID, tg.Anchor, next, now)
		if err != nil {
			r.Failed++
			log.Printf("decay: fact %s/%s: %v", ns, tg.ID, err)
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
