// Package temporal maintains time-bound subject/predicate/object facts.
//
// For every (namespace, subject, predicate) at most one fact is open. A new
// fact with a different object closes the open one at its own valid_from;
// the same object refreshes confidence and metadata in place.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lazypower/mnemo/internal/config"
	"github.com/lazypower/mnemo/internal/errs"
	"github.com/lazypower/mnemo/internal/namespace"
	"github.com/lazypower/mnemo/internal/store"
)

const maxFieldChars = 512

// Fact is the external view of a stored fact. A nil ValidTo means open.
type Fact struct {
	ID         string         `json:"id"`
	Namespace  string         `json:"namespace"`
	Subject    string         `json:"subject"`
	Predicate  string         `json:"predicate"`
	Object     string         `json:"object"`
	ValidFrom  time.Time      `json:"valid_from"`
	ValidTo    *time.Time     `json:"valid_to"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func toFact(f *store.Fact) Fact {
	out := Fact{
		ID:         f.ID,
		Namespace:  f.Namespace,
		Subject:    f.Subject,
		Predicate:  f.Predicate,
		Object:     f.Object,
		ValidFrom:  f.ValidFrom,
		Confidence: f.Confidence,
		Metadata:   f.Metadata,
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
	}
	if !f.Open() {
		t := f.ValidTo
		out.ValidTo = &t
	}
	return out
}

func toFacts(fs []store.Fact) []Fact {
	out := make([]Fact, 0, len(fs))
	for i := range fs {
		out = append(out, toFact(&fs[i]))
	}
	return out
}

// Service is the temporal fact store.
type Service struct {
	DB       *store.DB
	Registry *namespace.Registry

	cfg   config.FactsConfig
	clock func() time.Time

	mu      sync.Mutex
	entropy *rand.Rand
}

// New creates a Service. A nil clock uses time.Now.
func New(db *store.DB, reg *namespace.Registry, cfg config.FactsConfig, clock func() time.Time) *Service {
	if reg == nil {
		reg = namespace.NewRegistry(db)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		DB:       db,
		Registry: reg,
		cfg:      cfg,
		clock:    clock,
		entropy:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Service) now() time.Time {
	return s.clock().Truncate(time.Millisecond)
}

func (s *Service) newID(at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}

// lockTriple serializes writers of one (subject, predicate) in ns.
func (s *Service) lockTriple(ns, subject, predicate string) func() {
	return s.Registry.Locker(ns).Lock("fact:" + subject + "\x00" + predicate)
}

func field(name, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errs.Validation("%s is required", name)
	}
	if len(v) > maxFieldChars {
		return "", errs.Validation("%s is %d chars, limit %d", name, len(v), maxFieldChars)
	}
	return v, nil
}

func key(ns, subject, predicate string) (string, string, error) {
	if err := namespace.Validate(ns); err != nil {
		return "", "", err
	}
	subject, err := field("subject", subject)
	if err != nil {
		return "", "", err
	}
	predicate, err = field("predicate", predicate)
	if err != nil {
		return "", "", err
	}
	return subject, predicate, nil
}

// orderErr turns a history-ordering rejection into a validation error.
func orderErr(err error) error {
	if errors.Is(err, store.ErrFactOrder) {
		return errs.Validation("%v", err)
	}
	return err
}

// InsertInput is a new assertion. A zero ValidFrom means now; a nil
// Confidence means 1.
type InsertInput struct {
	Namespace  string
	Subject    string
	Predicate  string
	Object     string
	ValidFrom  time.Time
	Confidence *float64
	Metadata   map[string]any
}

// InsertResult describes the effect of an insert.
type InsertResult struct {
	ID      string `json:"id"`
	Fact    Fact   `json:"fact"`
	Closed  *Fact  `json:"closed,omitempty"`
	Updated bool   `json:"updated"`
}

// Insert records a fact, closing the open fact for the same subject and
// predicate when the object differs.
func (s *Service) Insert(ctx context.Context, in InsertInput) (*InsertResult, error) {
	subject, predicate, err := key(in.Namespace, in.Subject, in.Predicate)
	if err != nil {
		return nil, err
	}
	object, err := field("object", in.Object)
	if err != nil {
		return nil, err
	}
	conf := 1.0
	if in.Confidence != nil {
		conf = *in.Confidence
	}
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return nil, errs.Validation("confidence %v out of range [0,1]", conf)
	}
	if err := s.Registry.Ensure(ctx, in.Namespace); err != nil {
		return nil, err
	}

	now := s.now()
	from := in.ValidFrom
	if from.IsZero() {
		from = now
	}
	from = from.Truncate(time.Millisecond)

	unlock := s.lockTriple(in.Namespace, subject, predicate)
	defer unlock()

	w, err := s.DB.InsertFact(ctx, store.Fact{
		ID:         s.newID(now),
		Namespace:  in.Namespace,
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		ValidFrom:  from,
		Confidence: conf,
		Metadata:   in.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, orderErr(err)
	}
	res := &InsertResult{ID: w.Fact.ID, Fact: toFact(&w.Fact), Updated: w.Updated}
	if w.Closed != nil {
		c := toFact(w.Closed)
		res.Closed = &c
	}
	return res, nil
}

// Current returns the open fact for (subject, predicate).
func (s *Service) Current(ctx context.Context, ns, subject, predicate string) (*Fact, error) {
	subject, predicate, err := key(ns, subject, predicate)
	if err != nil {
		return nil, err
	}
	f, err := s.DB.OpenFact(ctx, ns, subject, predicate)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errs.NotFound("no current fact for %s %s", subject, predicate)
	}
	out := toFact(f)
	return &out, nil
}

// QueryAt returns the fact whose [valid_from, valid_to) interval contains at.
func (s *Service) QueryAt(ctx context.Context, ns, subject, predicate string, at time.Time) (*Fact, error) {
	subject, predicate, err := key(ns, subject, predicate)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		return nil, errs.Validation("at is required")
	}
	f, err := s.DB.FactAt(ctx, ns, subject, predicate, at)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errs.NotFound("no fact for %s %s at %s", subject, predicate, at.Format(time.RFC3339))
	}
	out := toFact(f)
	return &out, nil
}

// Timeline returns every interval for (subject, predicate), oldest first.
func (s *Service) Timeline(ctx context.Context, ns, subject, predicate string) ([]Fact, error) {
	subject, predicate, err := key(ns, subject, predicate)
	if err != nil {
		return nil, err
	}
	fs, err := s.DB.Timeline(ctx, ns, subject, predicate)
	if err != nil {
		return nil, err
	}
	return toFacts(fs), nil
}

// Snapshot returns every predicate's fact for subject as of at.
func (s *Service) Snapshot(ctx context.Context, ns, subject string, at time.Time) ([]Fact, error) {
	if err := namespace.Validate(ns); err != nil {
		return nil, err
	}
	subject, err := field("subject", subject)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = s.now()
	}
	fs, err := s.DB.FactsAt(ctx, ns, subject, at)
	if err != nil {
		return nil, err
	}
	return toFacts(fs), nil
}

// Invalidate closes the open fact for (subject, predicate) at at (zero
// means now) and returns it.
func (s *Service) Invalidate(ctx context.Context, ns, subject, predicate string, at time.Time) (*Fact, error) {
	subject, predicate, err := key(ns, subject, predicate)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = s.now()
	}
	unlock := s.lockTriple(ns, subject, predicate)
	defer unlock()

	f, err := s.DB.CloseFact(ctx, ns, subject, predicate, at.Truncate(time.Millisecond))
	if err != nil {
		return nil, orderErr(err)
	}
	if f == nil {
		return nil, errs.NotFound("no current fact for %s %s", subject, predicate)
	}
	out := toFact(f)
	return &out, nil
}

func (s *Service) owned(ctx context.Context, ns, id string) (*store.Fact, error) {
	if err := namespace.Validate(ns); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errs.Validation("id is required")
	}
	f, err := s.DB.GetFact(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errs.NotFound("fact %s", id)
	}
	if f.Namespace != ns {
		return nil, errs.Forbidden("fact %s is not in namespace %s", id, ns)
	}
	return f, nil
}

// Get returns a fact by id.
func (s *Service) Get(ctx context.Context, ns, id string) (*Fact, error) {
	f, err := s.owned(ctx, ns, id)
	if err != nil {
		return nil, err
	}
	out := toFact(f)
	return &out, nil
}

// Update changes a fact's confidence and/or metadata. The triple and
// valid_from are immutable.
func (s *Service) Update(ctx context.Context, ns, id string, confidence *float64, metadata map[string]any) (*Fact, error) {
	if confidence != nil {
		if c := *confidence; math.IsNaN(c) || c < 0 || c > 1 {
			return nil, errs.Validation("confidence %v out of range [0,1]", c)
		}
	}
	f, err := s.owned(ctx, ns, id)
	if err != nil {
		return nil, err
	}
	if confidence == nil && metadata == nil {
		out := toFact(f)
		return &out, nil
	}
	unlock := s.lockTriple(ns, f.Subject, f.Predicate)
	defer unlock()

	ok, err := s.DB.UpdateFact(ctx, id, confidence, metadata, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NotFound("fact %s", id)
	}
	return s.Get(ctx, ns, id)
}

// Purge removes a fact row. History normally ends a fact by invalidation;
// purge is for records that should never have existed.
func (s *Service) Purge(ctx context.Context, ns, id string) error {
	f, err := s.owned(ctx, ns, id)
	if err != nil {
		return err
	}
	unlock := s.lockTriple(ns, f.Subject, f.Predicate)
	defer unlock()
	if _, err := s.DB.DeleteFact(ctx, id); err != nil {
		return fmt.Errorf("purge fact: %w", err)
	}
	return nil
}

// MostVolatile ranks (subject, predicate) pairs by closed-interval count.
func (s *Service) MostVolatile(ctx context.Context, ns string, limit int) ([]store.Volatility, error) {
	if err := namespace.Validate(ns); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 10
	}
	out, err := s.DB.MostVolatile(ctx, ns, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.Volatility{}
	}
	return out, nil
}
