package temporal

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/mnemo/internal/errs"
)

// Change is one predicate whose object differs between two snapshots.
type Change struct {
	Predicate string `json:"predicate"`
	Before    Fact   `json:"before"`
	After     Fact   `json:"after"`
}

// Diff is the difference between a subject's snapshots at T1 and T2.
type Diff struct {
	Subject   string    `json:"subject"`
	T1        time.Time `json:"t1"`
	T2        time.Time `json:"t2"`
	Added     []Fact    `json:"added"`
	Removed   []Fact    `json:"removed"`
	Changed   []Change  `json:"changed"`
	Unchanged []Fact    `json:"unchanged"`
}

// Compare diffs the subject's snapshot at t1 against the one at t2. An
// empty predicate compares every predicate of the subject.
func (s *Service) Compare(ctx context.Context, ns, subject, predicate string, t1, t2 time.Time) (*Diff, error) {
	if t1.IsZero() || t2.IsZero() {
		return nil, errs.Validation("t1 and t2 are required")
	}
	before, err := s.Snapshot(ctx, ns, subject, t1)
	if err != nil {
		return nil, err
	}
	after, err := s.Snapshot(ctx, ns, subject, t2)
	if err != nil {
		return nil, err
	}
	predicate = strings.TrimSpace(predicate)

	index := func(fs []Fact) map[string]Fact {
		m := make(map[string]Fact, len(fs))
		for _, f := range fs {
			if predicate != "" && f.Predicate != predicate {
				continue
			}
			m[f.Predicate] = f
		}
		return m
	}
	b, a := index(before), index(after)

	d := &Diff{
		Subject:   strings.TrimSpace(subject),
		T1:        t1,
		T2:        t2,
		Added:     []Fact{},
		Removed:   []Fact{},
		Changed:   []Change{},
		Unchanged: []Fact{},
	}
	for p, bf := range b {
		af, ok := a[p]
		switch {
		case !ok:
			d.Removed = append(d.Removed, bf)
		case af.Object != bf.Object:
			d.Changed = append(d.Changed, Change{Predicate: p, Before: bf, After: af})
		default:
			d.Unchanged = append(d.Unchanged, af)
		}
	}
	for p, af := range a {
		if _, ok := b[p]; !ok {
			d.Added = append(d.Added, af)
		}
	}

	byPredicate := func(fs []Fact) {
		sort.Slice(fs, func(i, j int) bool { return fs[i].Predicate < fs[j].Predicate })
	}
	byPredicate(d.Added)
	byPredicate(d.Removed)
	byPredicate(d.Unchanged)
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Predicate < d.Changed[j].Predicate })
	return d, nil
}
