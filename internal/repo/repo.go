// Package repo provides typed async CRUD over the record store, one
// repository per entity kind. Repositories carry no business logic: merge
// policy lives in the store's merge path and dedup lives in the resolver.
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/speaklife/declarations/internal/schema"
	"github.com/speaklife/declarations/internal/store"
)

// Repository serves one entity kind over the shared record store.
// Construct one for journals and one for affirmations; both share the same
// injected store handle.
type Repository struct {
	store *store.Store
	kind  schema.Kind
}

// New creates a repository bound to an entity kind.
func New(s *store.Store, kind schema.Kind) *Repository {
	return &Repository{store: s, kind: kind}
}

// Kind returns the entity kind this repository serves.
func (r *Repository) Kind() schema.Kind {
	return r.kind
}

// Create persists a new entry. Missing identity and timestamps are filled
// in; a kind mismatch is rejected rather than silently rewritten.
func (r *Repository) Create(ctx context.Context, e *schema.Entry) error {
	if e.Kind == "" {
		e.Kind = r.kind
	}
	if e.Kind != r.kind {
		return fmt.Errorf("entry kind %q does not match repository kind %q", e.Kind, r.kind)
	}
	if e.ID == "" {
		fresh := schema.NewEntry(r.kind, e.Text)
		e.ID = fresh.ID
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastModified.IsZero() {
		e.LastModified = e.CreatedAt
	}
	return r.store.UpsertEntryContext(ctx, e)
}

// Save persists a mutated entry, bumping LastModified.
func (r *Repository) Save(ctx context.Context, e *schema.Entry) error {
	if e.Kind != r.kind {
		return fmt.Errorf("entry kind %q does not match repository kind %q", e.Kind, r.kind)
	}
	e.Touch()
	return r.store.UpsertEntryContext(ctx, e)
}

// Delete removes an entry by id. Idempotent.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.store.DeleteEntryContext(ctx, id)
}

// Fetch returns this kind's entries matching the filter, in retrieval
// order. The filter's kind is forced to the repository's kind.
func (r *Repository) Fetch(ctx context.Context, f store.Filter) ([]*schema.Entry, error) {
	f.Kind = r.kind
	return r.store.ListEntries(ctx, f)
}

// FetchByID retrieves one entry. Returns store.ErrNotFound when missing or
// when the id belongs to the other kind.
func (r *Repository) FetchByID(ctx context.Context, id string) (*schema.Entry, error) {
	e, err := r.store.GetEntryByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Kind != r.kind {
		return nil, store.ErrNotFound
	}
	return e, nil
}

// FetchByText returns all entries sharing an exact text, in retrieval order.
func (r *Repository) FetchByText(ctx context.Context, text string) ([]*schema.Entry, error) {
	return r.Fetch(ctx, store.Filter{Text: text})
}
