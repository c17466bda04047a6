// Package api provides the facade the rest of the app consumes: one
// unified read/write surface merging owned records from the repositories
// with the read-only catalog.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/speaklife/declarations/internal/catalog"
	"github.com/speaklife/declarations/internal/events"
	"github.com/speaklife/declarations/internal/repo"
	"github.com/speaklife/declarations/internal/resolver"
	"github.com/speaklife/declarations/internal/schema"
	"github.com/speaklife/declarations/internal/store"
)

// ErrNotOwned is returned when an owned-record operation is attempted on
// catalog content.
var ErrNotOwned = errors.New("declaration is not owned content")

// Service is the facade. It holds only transient projections, never
// authoritative copies: every read goes back to the repositories because
// remote merges can change records under the UI's feet.
type Service struct {
	journals     *repo.Repository
	affirmations *repo.Repository
	catalog      catalog.Provider
	resolver     *resolver.Resolver
	bus          *events.Bus
	logger       *log.Logger
	startupScrub int
}

// New creates the facade and runs one defensive duplicate scrub: two
// devices can create the same text concurrently, and construction is the
// cheapest point to collapse what slipped through.
func New(journals, affirmations *repo.Repository, provider catalog.Provider, res *resolver.Resolver, bus *events.Bus, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}

	s := &Service{
		journals:     journals,
		affirmations: affirmations,
		catalog:      provider,
		resolver:     res,
		bus:          bus,
		logger:       logger,
	}

	if res != nil {
		if n, err := res.RemoveDuplicates(context.Background()); err != nil {
			logger.Printf("WARNING: duplicate scrub failed: %v", err)
		} else if n > 0 {
			s.startupScrub = n
			logger.Printf("Duplicate scrub removed %d entries", n)
		}
	}
	return s
}

// Declarations returns owned records from both repositories projected into
// the read model, followed by the non-owned catalog. Catalog items
// erroneously tagged as owned are dropped.
func (s *Service) Declarations(ctx context.Context) ([]schema.Declaration, error) {
	var decls []schema.Declaration

	for _, r := range []*repo.Repository{s.journals, s.affirmations} {
		entries, err := r.Fetch(ctx, store.Filter{})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s entries: %w", r.Kind(), err)
		}
		for _, e := range entries {
			decls = append(decls, schema.FromEntry(e))
		}
	}

	catalogDecls, err := s.catalog.Declarations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	for _, d := range catalogDecls {
		if d.Owned() {
			s.logger.Printf("WARNING: dropping catalog item tagged as owned: %q", d.Text)
			continue
		}
		decls = append(decls, d)
	}

	return decls, nil
}

// Save is the legacy bulk-save path, retained only for non-owned content.
// Owned declarations in the input are ignored: owned-record mutation goes
// through single-record create/delete only, so a bulk save can never
// clobber concurrent remote edits by deleting and recreating the owned set.
func (s *Service) Save(ctx context.Context, decls []schema.Declaration) error {
	nonOwned := make([]schema.Declaration, 0, len(decls))
	dropped := 0
	for _, d := range decls {
		if d.Owned() {
			dropped++
			continue
		}
		nonOwned = append(nonOwned, d)
	}
	if dropped > 0 {
		s.logger.Printf("Save ignored %d owned declarations (bulk path is non-owned only)", dropped)
	}

	if err := s.catalog.Save(ctx, nonOwned); err != nil {
		return fmt.Errorf("failed to save catalog content: %w", err)
	}
	return nil
}

// CreateSingleDeclaration creates one owned record, routed to the correct
// repository by the content-type discriminator.
func (s *Service) CreateSingleDeclaration(ctx context.Context, d schema.Declaration) (*schema.Entry, error) {
	if !d.Owned() {
		return nil, fmt.Errorf("%w: category %q", ErrNotOwned, d.Category)
	}
	r, err := s.repositoryFor(d.ContentType)
	if err != nil {
		return nil, err
	}

	e := schema.NewEntry(r.Kind(), d.Text)
	e.BibleVerseText = d.BibleVerseText
	e.IsFavorite = d.IsFavorite
	if err := r.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to create declaration: %w", err)
	}
	return e, nil
}

// DeleteByID removes one owned record and announces the deletion so
// in-memory projections (favorites, owned lists) drop the id.
func (s *Service) DeleteByID(ctx context.Context, contentType schema.ContentType, id string) error {
	r, err := s.repositoryFor(contentType)
	if err != nil {
		return err
	}
	if err := r.Delete(ctx, id); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicEntryDeleted, events.EntryDeleted{EntryID: id})
	}
	return nil
}

// DeleteLegacy removes owned records addressed by a legacy identifier.
// The original text is reconstructed by stripping known suffixes, then
// both repositories are searched for exact matches. Returns how many
// records were deleted.
func (s *Service) DeleteLegacy(ctx context.Context, legacyID string) (int, error) {
	text := schema.LegacyText(legacyID)
	deleted := 0
	for _, r := range []*repo.Repository{s.journals, s.affirmations} {
		matches, err := r.FetchByText(ctx, text)
		if err != nil {
			return deleted, fmt.Errorf("failed to search %s entries: %w", r.Kind(), err)
		}
		for _, e := range matches {
			if err := s.DeleteByID(ctx, contentTypeFor(r.Kind()), e.ID); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	return deleted, nil
}

// StartupScrubCount reports how many duplicates the construction-time
// scrub removed.
func (s *Service) StartupScrubCount() int {
	return s.startupScrub
}

// RemoveDuplicates runs the resolver's scrub on demand.
func (s *Service) RemoveDuplicates(ctx context.Context) (int, error) {
	if s.resolver == nil {
		return 0, nil
	}
	return s.resolver.RemoveDuplicates(ctx)
}

func (s *Service) repositoryFor(ct schema.ContentType) (*repo.Repository, error) {
	kind, ok := ct.Kind()
	if !ok {
		return nil, fmt.Errorf("%w: content type %q", ErrNotOwned, ct)
	}
	switch kind {
	case schema.KindJournal:
		return s.journals, nil
	default:
		return s.affirmations, nil
	}
}

func contentTypeFor(kind schema.Kind) schema.ContentType {
	if kind == schema.KindJournal {
		return schema.ContentJournal
	}
	return schema.ContentAffirmation
}
