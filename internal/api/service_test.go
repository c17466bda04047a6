package api

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/speaklife/declarations/internal/catalog"
	"github.com/speaklife/declarations/internal/events"
	"github.com/speaklife/declarations/internal/repo"
	"github.com/speaklife/declarations/internal/resolver"
	"github.com/speaklife/declarations/internal/schema"
	"github.com/speaklife/declarations/internal/store"
)

// fakeProvider is an in-memory catalog provider recording what Save
// receives.
type fakeProvider struct {
	decls   []schema.Declaration
	saved   []schema.Declaration
	saveErr error
}

func (p *fakeProvider) Declarations(ctx context.Context) ([]schema.Declaration, error) {
	return p.decls, nil
}

func (p *fakeProvider) Save(ctx context.Context, decls []schema.Declaration) error {
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saved = decls
	return nil
}

func newTestService(t *testing.T, provider catalog.Provider) (*Service, *store.Store, *events.Bus) {
	t.Helper()

	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	if provider == nil {
		provider = &fakeProvider{}
	}

	journals := repo.New(st, schema.KindJournal)
	affirmations := repo.New(st, schema.KindAffirmation)
	res := resolver.New(st, nil)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	logger := log.New(io.Discard, "", 0)
	return New(journals, affirmations, provider, res, bus, logger), st, bus
}

func TestDeclarationsMergesOwnedAndCatalog(t *testing.T) {
	provider := &fakeProvider{decls: []schema.Declaration{
		{Text: "The Lord is my shepherd", Category: "peace", ContentType: schema.ContentCatalog},
		{Text: "I am strong", Category: "health", ContentType: schema.ContentCatalog},
	}}
	svc, _, _ := newTestService(t, provider)
	ctx := context.Background()

	if _, err := svc.CreateSingleDeclaration(ctx, schema.Declaration{
		Text:        "Today I chose joy",
		Category:    schema.CategoryMyOwn,
		ContentType: schema.ContentJournal,
	}); err != nil {
		t.Fatalf("failed to create journal entry: %v", err)
	}
	if _, err := svc.CreateSingleDeclaration(ctx, schema.Declaration{
		Text:        "I walk in peace",
		Category:    schema.CategoryMyOwn,
		ContentType: schema.ContentAffirmation,
	}); err != nil {
		t.Fatalf("failed to create affirmation: %v", err)
	}

	decls, err := svc.Declarations(ctx)
	if err != nil {
		t.Fatalf("Declarations failed: %v", err)
	}
	if len(decls) != 4 {
		t.Fatalf("expected 4 declarations, got %d", len(decls))
	}

	owned := 0
	for _, d := range decls {
		if d.Owned() {
			owned++
			if d.EntryID == "" {
				t.Errorf("owned declaration %q has no entry id", d.Text)
			}
		}
	}
	if owned != 2 {
		t.Errorf("expected 2 owned declarations, got %d", owned)
	}
}

func TestDeclarationsDropsCatalogItemsTaggedOwned(t *testing.T) {
	provider := &fakeProvider{decls: []schema.Declaration{
		{Text: "legit", Category: "faith", ContentType: schema.ContentCatalog},
		{Text: "mis-tagged", Category: schema.CategoryMyOwn, ContentType: schema.ContentCatalog},
	}}
	svc, _, _ := newTestService(t, provider)

	decls, err := svc.Declarations(context.Background())
	if err != nil {
		t.Fatalf("Declarations failed: %v", err)
	}
	if len(decls) != 1 {
		t.Fatalf("expected 1 declaration, got %d", len(decls))
	}
	if decls[0].Text != "legit" {
		t.Errorf("expected the legit catalog item, got %q", decls[0].Text)
	}
}

func TestSaveNeverTouchesOwnedRecords(t *testing.T) {
	provider := &fakeProvider{}
	svc, st, _ := newTestService(t, provider)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		kind := schema.ContentJournal
		if i%2 == 0 {
			kind = schema.ContentAffirmation
		}
		if _, err := svc.CreateSingleDeclaration(ctx, schema.Declaration{
			Text:        "owned " + string(rune('a'+i)),
			Category:    schema.CategoryMyOwn,
			ContentType: kind,
		}); err != nil {
			t.Fatalf("failed to create owned entry %d: %v", i, err)
		}
	}

	mixed := []schema.Declaration{
		{Text: "catalog one", Category: "faith", ContentType: schema.ContentCatalog},
		{Text: "catalog two", Category: "hope", ContentType: schema.ContentCatalog},
		{Text: "owned impostor", Category: schema.CategoryMyOwn, ContentType: schema.ContentJournal},
		{Text: "catalog three", Category: "peace", ContentType: schema.ContentCatalog},
		{Text: "catalog four", Category: "love", ContentType: schema.ContentCatalog},
		{Text: "catalog five", Category: "wealth", ContentType: schema.ContentCatalog},
	}
	if err := svc.Save(ctx, mixed); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if len(provider.saved) != 5 {
		t.Fatalf("expected 5 non-owned declarations saved, got %d", len(provider.saved))
	}
	for _, d := range provider.saved {
		if d.Owned() {
			t.Errorf("owned declaration %q leaked into the catalog save", d.Text)
		}
	}

	count, err := st.CountEntries(ctx, "")
	if err != nil {
		t.Fatalf("failed to count entries: %v", err)
	}
	if count != 10 {
		t.Errorf("expected 10 owned records untouched, got %d", count)
	}
}

func TestCreateSingleDeclarationRejectsCatalogContent(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	_, err := svc.CreateSingleDeclaration(context.Background(), schema.Declaration{
		Text:        "not yours",
		Category:    "faith",
		ContentType: schema.ContentCatalog,
	})
	if !errors.Is(err, ErrNotOwned) {
		t.Errorf("expected ErrNotOwned, got %v", err)
	}
}

func TestCreateSingleDeclarationRoutesByContentType(t *testing.T) {
	svc, st, _ := newTestService(t, nil)
	ctx := context.Background()

	e, err := svc.CreateSingleDeclaration(ctx, schema.Declaration{
		Text:        "I speak life",
		Category:    schema.CategoryMyOwn,
		ContentType: schema.ContentAffirmation,
	})
	if err != nil {
		t.Fatalf("failed to create affirmation: %v", err)
	}

	stored, err := st.GetEntryByID(ctx, e.ID)
	if err != nil {
		t.Fatalf("failed to fetch created entry: %v", err)
	}
	if stored.Kind != schema.KindAffirmation {
		t.Errorf("expected affirmation kind, got %q", stored.Kind)
	}
}

func TestDeleteByIDPublishesDeletion(t *testing.T) {
	svc, st, bus := newTestService(t, nil)
	ctx := context.Background()

	ch, cancel := bus.Subscribe(events.TopicEntryDeleted)
	defer cancel()

	e, err := svc.CreateSingleDeclaration(ctx, schema.Declaration{
		Text:        "gone soon",
		Category:    schema.CategoryMyOwn,
		ContentType: schema.ContentJournal,
	})
	if err != nil {
		t.Fatalf("failed to create entry: %v", err)
	}

	if err := svc.DeleteByID(ctx, schema.ContentJournal, e.ID); err != nil {
		t.Fatalf("DeleteByID failed: %v", err)
	}

	if _, err := st.GetEntryByID(ctx, e.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected entry gone, got %v", err)
	}

	ev := <-ch
	deleted, ok := ev.Payload.(events.EntryDeleted)
	if !ok {
		t.Fatalf("unexpected payload type %T", ev.Payload)
	}
	if deleted.EntryID != e.ID {
		t.Errorf("expected deletion event for %q, got %q", e.ID, deleted.EntryID)
	}
}

func TestDeleteLegacyStripsSuffixes(t *testing.T) {
	svc, st, _ := newTestService(t, nil)
	ctx := context.Background()

	e, err := svc.CreateSingleDeclaration(ctx, schema.Declaration{
		Text:        "I am blessed",
		Category:    schema.CategoryMyOwn,
		ContentType: schema.ContentJournal,
	})
	if err != nil {
		t.Fatalf("failed to create entry: %v", err)
	}

	deleted, err := svc.DeleteLegacy(ctx, "I am blessedmyOwnjournal")
	if err != nil {
		t.Fatalf("DeleteLegacy failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}
	if _, err := st.GetEntryByID(ctx, e.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected entry gone, got %v", err)
	}
}

func TestDeleteLegacyNoMatch(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	deleted, err := svc.DeleteLegacy(context.Background(), "never existedmyOwn")
	if err != nil {
		t.Fatalf("DeleteLegacy failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected no deletions, got %d", deleted)
	}
}

func TestConstructionScrubsDuplicates(t *testing.T) {
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e := schema.NewEntry(schema.KindAffirmation, "same text twice over")
		if err := st.UpsertEntryContext(ctx, e); err != nil {
			t.Fatalf("failed to seed duplicate %d: %v", i, err)
		}
	}

	journals := repo.New(st, schema.KindJournal)
	affirmations := repo.New(st, schema.KindAffirmation)
	res := resolver.New(st, nil)
	logger := log.New(io.Discard, "", 0)
	svc := New(journals, affirmations, &fakeProvider{}, res, nil, logger)

	if got := svc.StartupScrubCount(); got != 2 {
		t.Errorf("expected 2 scrubbed at startup, got %d", got)
	}
	count, err := st.CountEntries(ctx, "")
	if err != nil {
		t.Fatalf("failed to count entries: %v", err)
	}
	if count != 1 {
		t.Errorf("expected duplicates scrubbed to 1, got %d", count)
	}
}
