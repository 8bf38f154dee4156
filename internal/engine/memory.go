package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/mnemo/internal/errs"
	"github.com/lazypower/mnemo/internal/namespace"
	"github.com/lazypower/mnemo/internal/sector"
	"github.com/lazypower/mnemo/internal/store"
	"github.com/lazypower/mnemo/internal/vector"
)

// Memory is the external view of a stored memory.
type Memory struct {
	ID             string          `json:"id"`
	Namespace      string          `json:"namespace"`
	Content        string          `json:"content"`
	PrimarySector  sector.Sector   `json:"primary_sector"`
	Sectors        []sector.Sector `json:"sectors"`
	Salience       float64         `json:"salience"`
	Tags           []string        `json:"tags"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	LastAccessedAt *time.Time      `json:"last_accessed_at,omitempty"`
	Waypoint       *Link           `json:"waypoint,omitempty"`
}

// Link is a memory's outgoing waypoint.
type Link struct {
	DstID  string  `json:"dst_id"`
	Weight float64 `json:"weight"`
}

func toMemory(m *store.Memory) Memory {
	out := Memory{
		ID:            m.ID,
		Namespace:     m.Namespace,
		Content:       m.Content,
		PrimarySector: m.PrimarySector,
		Sectors:       m.Sectors,
		Salience:      m.Salience,
		Tags:          m.Tags,
		Metadata:      m.Metadata,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if !m.LastAccessedAt.IsZero() {
		t := m.LastAccessedAt
		out.LastAccessedAt = &t
	}
	return out
}

// AddInput is a request to store a memory.
type AddInput struct {
	Namespace string
	Content   string
	Sector    sector.Sector // optional primary sector hint
	Salience  *float64      // optional initial salience
	Tags      []string
	Metadata  map[string]any
}

// AddResult describes a stored memory.
type AddResult struct {
	ID            string          `json:"id"`
	PrimarySector sector.Sector   `json:"primary_sector"`
	Sectors       []sector.Sector `json:"sectors"`
	Salience      float64         `json:"salience"`
	Waypoint      *Link           `json:"waypoint,omitempty"`
}

// Add classifies, embeds and stores a memory, then links it to its
// strongest neighbour. Either every sector vector and the record are
// stored, or nothing is.
func (e *Engine) Add(ctx context.Context, in AddInput) (*AddResult, error) {
	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}
	if in.Sector != "" && !in.Sector.Valid() {
		return nil, errs.Validation("unknown sector %q", in.Sector)
	}
	salience := e.cfg.InitialSalience
	if in.Salience != nil {
		salience = *in.Salience
	}
	if err := validateUnit("salience", salience); err != nil {
		return nil, err
	}
	tags, err := validateTags(in.Tags)
	if err != nil {
		return nil, err
	}
	if err := e.Registry.Ensure(ctx, in.Namespace); err != nil {
		return nil, err
	}

	assign := e.Classifier.Classify(content, in.Sector)
	if err := assign.Validate(); err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	embs, err := e.embedAll(ctx, content, assign.Sectors)
	if err != nil {
		return nil, err
	}

	// Embeddings are done; the write and index steps run to completion
	// so a cancelled caller cannot leave a half-indexed memory.
	wctx := context.WithoutCancel(ctx)
	now := e.now()
	m := &store.Memory{
		ID:            uuid.New().String(),
		Namespace:     in.Namespace,
		Content:       content,
		PrimarySector: assign.Primary,
		Sectors:       assign.Sectors,
		Salience:      salience,
		DecayedAt:     now,
		Tags:          tags,
		Metadata:      in.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.DB.CreateMemory(wctx, m, embs); err != nil {
		return nil, err
	}
	if err := e.indexAll(wctx, m, embs); err != nil {
		if derr := e.DB.DeleteMemory(wctx, m.ID, true, now); derr != nil {
			log.Printf("engine: rollback %s: %v", m.ID, derr)
		}
		return nil, err
	}

	res := &AddResult{
		ID:            m.ID,
		PrimarySector: m.PrimarySector,
		Sectors:       m.Sectors,
		Salience:      m.Salience,
	}
	link, err := e.link(wctx, m.Namespace, m.ID, embs)
	if err != nil {
		e.waypointFailures.Add(1)
		log.Printf("engine: waypoint for %s: %v", m.ID, err)
	}
	res.Waypoint = link
	return res, nil
}

// indexAll upserts every embedding of m. On failure the sectors already
// written are removed again.
func (e *Engine) indexAll(ctx context.Context, m *store.Memory, embs []store.Embedding) error {
	for i, emb := range embs {
		err := e.Index.Upsert(ctx, vector.Entry{
			Namespace: m.Namespace,
			Sector:    emb.Sector,
			ID:        m.ID,
			Vector:    emb.Vector,
			UpdatedAt: m.UpdatedAt,
		})
		if err == nil {
			continue
		}
		for _, done := range embs[:i] {
			if rerr := e.Index.Remove(ctx, m.Namespace, done.Sector, m.ID); rerr != nil {
				log.Printf("engine: unindex %s/%s: %v", m.ID, done.Sector, rerr)
			}
		}
		return fmt.Errorf("index %s/%s: %w", m.ID, emb.Sector, err)
	}
	return nil
}

// Get returns a memory owned by ns and records the access.
func (e *Engine) Get(ctx context.Context, ns, id string) (*Memory, error) {
	m, err := e.owned(ctx, ns, id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if err := e.DB.TouchMemories(ctx, []string{id}, now); err != nil {
		log.Printf("engine: touch %s: %v", id, err)
	} else {
		m.LastAccessedAt = now
	}
	out := toMemory(m)
	w, err := e.DB.GetWaypoint(ctx, ns, id)
	if err != nil {
		return nil, err
	}
	if w != nil {
		out.Waypoint = &Link{DstID: w.DstID, Weight: w.Weight}
	}
	return &out, nil
}

// List returns live memories in ns, newest first.
func (e *Engine) List(ctx context.Context, ns string, limit, offset int) ([]Memory, error) {
	if _, err := e.Registry.Get(ctx, ns); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := e.DB.ListMemories(ctx, ns, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]Memory, 0, len(rows))
	for i := range rows {
		out = append(out, toMemory(&rows[i]))
	}
	return out, nil
}

// UpdateInput changes a memory. Nil fields are left as they are.
type UpdateInput struct {
	Namespace string
	ID        string
	Content   *string
	Sector    sector.Sector // optional hint used when content changes
	Tags      *[]string
	Metadata  map[string]any
}

// UpdateResult reports what an update changed.
type UpdateResult struct {
	ID            string          `json:"id"`
	Updated       bool            `json:"updated"`
	Reembedded    bool            `json:"reembedded"`
	PrimarySector sector.Sector   `json:"primary_sector"`
	Sectors       []sector.Sector `json:"sectors"`
}

// Update rewrites a memory. A content change reclassifies and re-embeds
// the memory and replaces its waypoint.
func (e *Engine) Update(ctx context.Context, in UpdateInput) (*UpdateResult, error) {
	if in.Sector != "" && !in.Sector.Valid() {
		return nil, errs.Validation("unknown sector %q", in.Sector)
	}
	if err := namespace.Validate(in.Namespace); err != nil {
		return nil, err
	}
	unlock := e.Registry.Locker(in.Namespace).Lock("memory:" + in.ID)
	defer unlock()

	m, err := e.owned(ctx, in.Namespace, in.ID)
	if err != nil {
		return nil, err
	}
	prev := *m
	res := &UpdateResult{ID: m.ID, PrimarySector: m.PrimarySector, Sectors: m.Sectors}

	changed := false
	if in.Tags != nil {
		tags, err := validateTags(*in.Tags)
		if err != nil {
			return nil, err
		}
		if !slices.Equal(tags, m.Tags) {
			m.Tags = tags
			changed = true
		}
	}
	if in.Metadata != nil {
		m.Metadata = in.Metadata
		changed = true
	}

	var embs []store.Embedding
	if in.Content != nil {
		content, err := validateContent(*in.Content)
		if err != nil {
			return nil, err
		}
		if content != m.Content {
			assign := e.Classifier.Classify(content, in.Sector)
			if err := assign.Validate(); err != nil {
				return nil, fmt.Errorf("classifier: %w", err)
			}
			embs, err = e.embedAll(ctx, content, assign.Sectors)
			if err != nil {
				return nil, err
			}
			m.Content = content
			m.PrimarySector = assign.Primary
			m.Sectors = assign.Sectors
			changed = true
		}
	}
	if !changed {
		return res, nil
	}

	wctx := context.WithoutCancel(ctx)
	m.UpdatedAt = e.now()
	if embs == nil {
		if err := e.DB.UpdateMemory(wctx, m, nil); err != nil {
			return nil, updateErr(m.ID, err)
		}
		res.Updated = true
		return res, nil
	}

	// New vectors are indexed before the row changes; a failure at either
	// step restores the previous vectors.
	oldEmbs, err := e.DB.Embeddings(wctx, m.ID)
	if err != nil {
		return nil, err
	}
	if err := e.indexAll(wctx, m, embs); err != nil {
		e.restoreIndex(wctx, &prev, oldEmbs, m.Sectors)
		return nil, err
	}
	if err := e.DB.UpdateMemory(wctx, m, embs); err != nil {
		e.restoreIndex(wctx, &prev, oldEmbs, m.Sectors)
		return nil, updateErr(m.ID, err)
	}
	res.Updated = true
	res.Reembedded = true
	res.PrimarySector = m.PrimarySector
	res.Sectors = m.Sectors
	for _, s := range prev.Sectors {
		if slices.Contains(m.Sectors, s) {
			continue
		}
		if err := e.Index.Remove(wctx, m.Namespace, s, m.ID); err != nil {
			log.Printf("engine: unindex %s/%s: %v", m.ID, s, err)
		}
	}
	if err := e.DB.DeleteWaypoint(wctx, m.Namespace, m.ID); err != nil {
		log.Printf("engine: drop waypoint %s: %v", m.ID, err)
	}
	if _, err := e.link(wctx, m.Namespace, m.ID, embs); err != nil {
		e.waypointFailures.Add(1)
		log.Printf("engine: waypoint for %s: %v", m.ID, err)
	}
	return res, nil
}

func updateErr(id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound("memory %s", id)
	}
	return err
}

// restoreIndex drops the sectors an aborted update wrote and puts the
// previous vectors back.
func (e *Engine) restoreIndex(ctx context.Context, prev *store.Memory, old []store.Embedding, written []sector.Sector) {
	kept := make(map[sector.Sector]bool, len(old))
	for _, emb := range old {
		kept[emb.Sector] = true
	}
	for _, s := range written {
		if kept[s] {
			continue
		}
		if err := e.Index.Remove(ctx, prev.Namespace, s, prev.ID); err != nil {
			log.Printf("engine: unindex %s/%s: %v", prev.ID, s, err)
		}
	}
	for _, emb := range old {
		err := e.Index.Upsert(ctx, vector.Entry{
			Namespace: prev.Namespace,
			Sector:    emb.Sector,
			ID:        prev.ID,
			Vector:    emb.Vector,
			UpdatedAt: prev.UpdatedAt,
		})
		if err != nil {
			log.Printf("engine: restore %s/%s: %v", prev.ID, emb.Sector, err)
		}
	}
}

// Delete removes a memory from ns. Soft deletes keep the row for audit;
// hard deletes remove it. Either way it stops being retrievable, and
// edges pointing at it are pruned when next traversed.
func (e *Engine) Delete(ctx context.Context, ns, id string, hard bool) error {
	if err := namespace.Validate(ns); err != nil {
		return err
	}
	unlock := e.Registry.Locker(ns).Lock("memory:" + id)
	defer unlock()

	m, err := e.owned(ctx, ns, id)
	if err != nil {
		return err
	}
	wctx := context.WithoutCancel(ctx)
	if err := e.DB.DeleteMemory(wctx, id, hard, e.now()); err != nil {
		return err
	}
	for _, s := range m.Sectors {
		if err := e.Index.Remove(wctx, ns, s, id); err != nil {
			log.Printf("engine: unindex %s/%s: %v", id, s, err)
		}
	}
	return nil
}

// ReinforceInput boosts a memory's salience. Namespace is optional; when
// set the memory must belong to it. A zero Boost uses the configured default.
type ReinforceInput struct {
	Namespace string
	ID        string
	Boost     float64
}

// Reinforce adds Boost to the memory's salience, bounded to [0, 1], and
// returns the new value.
func (e *Engine) Reinforce(ctx context.Context, in ReinforceInput) (float64, error) {
	boost := in.Boost
	if boost == 0 {
		boost = e.cfg.ReinforceBoost
	}
	if math.IsNaN(boost) || math.IsInf(boost, 0) || boost < -1 || boost > 1 {
		return 0, errs.Validation("boost %v out of range [-1,1]", in.Boost)
	}
	if in.ID == "" {
		return 0, errs.Validation("id is required")
	}
	if in.Namespace != "" {
		if _, err := e.owned(ctx, in.Namespace, in.ID); err != nil {
			return 0, err
		}
	}
	sal, err := e.DB.Reinforce(ctx, in.ID, boost, e.now())
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errs.NotFound("memory %s", in.ID)
	}
	return sal, err
}
