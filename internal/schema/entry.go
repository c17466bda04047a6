// Package schema provides the data structures for owned records and the
// declaration read model.
package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which of the two owned entity kinds a record belongs to.
type Kind string

const (
	// KindJournal is a journal entry authored by the user.
	KindJournal Kind = "journal"
	// KindAffirmation is an affirmation entry authored by the user.
	KindAffirmation Kind = "affirmation"
)

// Valid reports whether k is one of the two supported kinds.
func (k Kind) Valid() bool {
	return k == KindJournal || k == KindAffirmation
}

// CategoryMyOwn tags user-authored content. Only records carrying this
// category participate in owned-record creation and deletion; every other
// category is read-only catalog content and never hits the store.
const CategoryMyOwn = "myOwn"

// CatalogCategories lists the known non-owned categories shipped in the
// remote catalog. The legacy-id shim strips these as suffixes.
var CatalogCategories = []string{
	"faith",
	"fear",
	"gratitude",
	"health",
	"identity",
	"love",
	"peace",
	"wealth",
}

// Entry is an owned record stored and replicated by the engine.
// Fields are flat with last-write-wins semantics: LastModified resolves
// conflicts at record granularity when the same entry is edited on two
// devices.
type Entry struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	Text           string `json:"text"`
	Category       string `json:"category"`
	BibleVerseText string `json:"bible_verse_text,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`

	IsFavorite bool `json:"is_favorite"`
}

// NewEntry creates an owned entry with a fresh ID and both timestamps set
// to now. IDs are assigned exactly once and never reused.
func NewEntry(kind Kind, text string) *Entry {
	now := time.Now().UTC()
	return &Entry{
		ID:           uuid.NewString(),
		Kind:         kind,
		Text:         text,
		Category:     CategoryMyOwn,
		CreatedAt:    now,
		LastModified: now,
	}
}

// Touch bumps LastModified, keeping it monotonically non-decreasing even
// when the wall clock steps backwards.
func (e *Entry) Touch() {
	now := time.Now().UTC()
	if now.After(e.LastModified) {
		e.LastModified = now
	}
}

// Validate checks that the entry has valid field values.
func (e *Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Text == "" {
		return fmt.Errorf("text is required")
	}
	if e.Category == "" {
		return fmt.Errorf("category is required")
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if e.LastModified.IsZero() {
		return fmt.Errorf("last_modified is required")
	}
	if e.LastModified.Before(e.CreatedAt) {
		return fmt.Errorf("last_modified precedes created_at")
	}
	return nil
}
