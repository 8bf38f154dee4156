// Package namespace owns the set of isolation boundaries. Every memory,
// embedding, waypoint and fact belongs to exactly one namespace, and each
// namespace has its own lock space so work in one never waits on another.
package namespace

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/lazypower/mnemo/internal/errs"
	"github.com/lazypower/mnemo/internal/store"
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Validate checks a namespace name.
func Validate(name string) error {
	if name == "" {
		return errs.Validation("namespace is required")
	}
	if !nameRE.MatchString(name) {
		return errs.Validation("invalid namespace %q: use 1-128 of [A-Za-z0-9._:-]", name)
	}
	return nil
}

// Registry persists namespaces and hands out per-namespace lockers.
type Registry struct {
	db  *store.DB
	now func() time.Time

	mu      sync.Mutex
	known   map[string]bool
	lockers map[string]*Locker
}

// NewRegistry creates a registry over db.
func NewRegistry(db *store.DB) *Registry {
	return &Registry{
		db:      db,
		now:     time.Now,
		known:   make(map[string]bool),
		lockers: make(map[string]*Locker),
	}
}

// Ensure validates name and registers it on first use.
func (r *Registry) Ensure(ctx context.Context, name string) error {
	if err := Validate(name); err != nil {
		return err
	}
	r.mu.Lock()
	ok := r.known[name]
	r.mu.Unlock()
	if ok {
		return nil
	}
	if _, err := r.db.EnsureNamespace(ctx, name, r.now()); err != nil {
		return fmt.Errorf("register namespace %s: %w", name, err)
	}
	r.mu.Lock()
	r.known[name] = true
	r.mu.Unlock()
	return nil
}

// Get returns a namespace with its counts, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, name string) (*store.Namespace, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}
	ns, err := r.db.GetNamespace(ctx, name)
	if err != nil {
		return nil, err
	}
	if ns == nil {
		return nil, errs.NotFound("namespace %s", name)
	}
	return ns, nil
}

// List returns every registered namespace.
func (r *Registry) List(ctx context.Context) ([]store.Namespace, error) {
	return r.db.ListNamespaces(ctx)
}

// Describe sets a namespace's description, registering it if needed.
func (r *Registry) Describe(ctx context.Context, name, description string) error {
	if err := r.Ensure(ctx, name); err != nil {
		return err
	}
	return r.db.SetNamespaceDescription(ctx, name, description)
}

// Locker returns the lock space for a namespace.
func (r *Registry) Locker(name string) *Locker {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lockers[name]
	if !ok {
		l = newLocker()
		r.lockers[name] = l
	}
	return l
}

// Names implements decay.Namespaces.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	list, err := r.db.ListNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(list))
	for i, ns := range list {
		names[i] = ns.Name
	}
	return names, nil
}

// LastDecay implements decay.Namespaces.
func (r *Registry) LastDecay(ctx context.Context, name string) (time.Time, error) {
	return r.db.NamespaceLastDecay(ctx, name)
}

// MarkDecayed implements decay.Namespaces.
func (r *Registry) MarkDecayed(ctx context.Context, name string, at time.Time) error {
	return r.db.MarkNamespaceDecayed(ctx, name, at)
}
