// Package resolver defines the merge policy applied to concurrent edits and
// the duplicate-text scrub.
//
// The merge policy is declarative: it is configured once when the engine
// initializes and needs no further runtime logic. Incoming remote values
// win over local values that have not changed since the last successful
// sync; otherwise the record with the later LastModified wins as a whole.
// Record granularity, not per-field: entries carry few fields and are
// rarely co-edited, so whole-record last-writer-wins is an accepted
// simplification, not a bug.
package resolver

import (
	"context"
	"log"
	"os"

	"github.com/speaklife/declarations/internal/schema"
	"github.com/speaklife/declarations/internal/store"
)

// Policy describes the configured conflict resolution behavior. The store's
// merge path implements it; the struct exists so the choice is explicit and
// visible at engine initialization.
type Policy struct {
	// IncomingWinsWhenLocalUnchanged lets a remote field value replace a
	// local one that has not been edited since the last successful sync.
	IncomingWinsWhenLocalUnchanged bool
	// RecordLevelLastWriterWins breaks remaining conflicts by LastModified
	// across the whole record.
	RecordLevelLastWriterWins bool
}

// DefaultPolicy is the one policy the engine ever configures.
func DefaultPolicy() Policy {
	return Policy{
		IncomingWinsWhenLocalUnchanged: true,
		RecordLevelLastWriterWins:      true,
	}
}

// Resolver runs the duplicate-text scrub against the record store.
type Resolver struct {
	store  *store.Store
	logger *log.Logger
}

// New creates a resolver. A nil logger falls back to stderr.
func New(s *store.Store, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[resolver] ", log.LstdFlags)
	}
	return &Resolver{store: s, logger: logger}
}

// RemoveDuplicates scans each entity kind in retrieval order, keeps the
// first occurrence of every distinct text, and deletes the rest. Running it
// twice in a row deletes nothing on the second pass. Concurrent devices can
// create same-text records faster than the merge policy collapses them;
// this scrub is the defensive cleanup.
//
// Returns the total number of entries deleted.
func (r *Resolver) RemoveDuplicates(ctx context.Context) (int, error) {
	total := 0
	for _, kind := range []schema.Kind{schema.KindJournal, schema.KindAffirmation} {
		n, err := r.removeDuplicatesForKind(ctx, kind)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		r.logger.Printf("Removed %d duplicate entries", total)
	}
	return total, nil
}

func (r *Resolver) removeDuplicatesForKind(ctx context.Context, kind schema.Kind) (int, error) {
	entries, err := r.store.ListEntries(ctx, store.Filter{Kind: kind})
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(entries))
	var doomed []string
	for _, e := range entries {
		if _, dup := seen[e.Text]; dup {
			doomed = append(doomed, e.ID)
			continue
		}
		seen[e.Text] = struct{}{}
	}

	if len(doomed) == 0 {
		return 0, nil
	}
	if err := r.store.DeleteEntries(ctx, doomed); err != nil {
		return 0, err
	}
	return len(doomed), nil
}
