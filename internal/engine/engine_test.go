package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/speaklife/declarations/internal/channel"
	"github.com/speaklife/declarations/internal/events"
	"github.com/speaklife/declarations/internal/schema"
	"github.com/speaklife/declarations/internal/statefile"
	"github.com/speaklife/declarations/internal/store"
)

// fakeChannel is a scriptable replicator. Sync lands the seed entries into
// the wired store, mimicking a pull that brings remote records down.
type fakeChannel struct {
	mu         sync.Mutex
	configured bool
	accountErr error
	syncErr    error
	syncCalls  int
	pushCalls  int
	seed       []*schema.Entry
	store      *store.Store
}

func (f *fakeChannel) Configured() bool { return f.configured }

func (f *fakeChannel) AccountAvailable(ctx context.Context) error { return f.accountErr }

func (f *fakeChannel) Connect(ctx context.Context) (*sql.DB, error) {
	return nil, errors.New("fake channel has no replica")
}

func (f *fakeChannel) Sync(ctx context.Context) (channel.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	if f.syncErr != nil {
		return channel.Stats{}, f.syncErr
	}
	n := 0
	for _, e := range f.seed {
		if err := f.store.UpsertEntryContext(ctx, e); err != nil {
			return channel.Stats{}, err
		}
		n++
	}
	f.seed = nil
	return channel.Stats{FramesSynced: n}, nil
}

func (f *fakeChannel) Push(ctx context.Context) (channel.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushCalls++
	return channel.Stats{}, nil
}

func (f *fakeChannel) Start(ctx context.Context) {}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) calls() (syncs, pushes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncCalls, f.pushCalls
}

func newTestEngine(t *testing.T, ch Replicator, bus *events.Bus) (*Engine, func() []time.Duration) {
	t.Helper()

	var mu sync.Mutex
	var slept []time.Duration
	eng := New(Config{
		DataDir:     t.TempDir(),
		Environment: "test",
		Channel:     ch,
		Bus:         bus,
		Logger:      log.New(io.Discard, "", 0),
		Sleep: func(d time.Duration) {
			mu.Lock()
			slept = append(slept, d)
			mu.Unlock()
		},
	})
	if err := eng.Initialize(context.Background(), true); err != nil {
		t.Fatalf("failed to initialize engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	sleeps := func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Duration(nil), slept...)
	}
	return eng, sleeps
}

func TestBootstrapNoAccountSettlesLocally(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch, cancel := bus.Subscribe(events.TopicImportCompleted)
	defer cancel()

	eng, _ := newTestEngine(t, nil, bus)

	if err := eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if got := eng.BootstrapState(); got != BootstrapNoAccount {
		t.Errorf("expected no-account state, got %v", got)
	}

	ev := <-ch
	completed := ev.Payload.(events.ImportCompleted)
	if completed.HasData {
		t.Error("empty local store should report no data")
	}
}

func TestBootstrapExhaustsAfterFiveAttempts(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	failedCh, cancel := bus.Subscribe(events.TopicImportFailed)
	defer cancel()

	fake := &fakeChannel{configured: true, syncErr: errors.New("primary unreachable")}
	eng, sleeps := newTestEngine(t, fake, bus)
	fake.store = eng.Store()

	err := eng.Bootstrap(context.Background())
	if !errors.Is(err, ErrBootstrapExhausted) {
		t.Fatalf("expected ErrBootstrapExhausted, got %v", err)
	}
	if got := eng.BootstrapState(); got != BootstrapExhausted {
		t.Errorf("expected exhausted state, got %v", got)
	}

	syncs, _ := fake.calls()
	if syncs != 5 {
		t.Errorf("expected exactly 5 import attempts, got %d", syncs)
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second, 30 * time.Second, 60 * time.Second}
	got := sleeps()
	if len(got) != len(want) {
		t.Fatalf("expected %d delays, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	st, err := statefile.Load(statefile.Path(eng.cfg.DataDir))
	if err != nil {
		t.Fatalf("failed to load state file: %v", err)
	}
	if st.BootstrapAttempts != 5 {
		t.Errorf("expected 5 persisted attempts, got %d", st.BootstrapAttempts)
	}
	if st.BootstrapReason == "" {
		t.Error("expected persisted failure reason")
	}

	ev := <-failedCh
	failed := ev.Payload.(events.ImportFailed)
	if failed.Reason != "max attempts reached" {
		t.Errorf("expected reason %q, got %q", "max attempts reached", failed.Reason)
	}
	if failed.AccountUnavailable {
		t.Error("retry exhaustion is not an account problem")
	}
}

func TestBootstrapRetriesEmptySuccessfulSyncs(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	failedCh, cancel := bus.Subscribe(events.TopicImportFailed)
	defer cancel()

	// Syncs succeed but the backend never has anything to hand over.
	fake := &fakeChannel{configured: true}
	eng, sleeps := newTestEngine(t, fake, bus)
	fake.store = eng.Store()

	err := eng.Bootstrap(context.Background())
	if !errors.Is(err, ErrBootstrapExhausted) {
		t.Fatalf("expected ErrBootstrapExhausted, got %v", err)
	}
	if got := eng.BootstrapState(); got != BootstrapExhausted {
		t.Errorf("expected exhausted state, got %v", got)
	}

	syncs, _ := fake.calls()
	if syncs != 5 {
		t.Errorf("expected exactly 5 import attempts, got %d", syncs)
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second, 30 * time.Second, 60 * time.Second}
	got := sleeps()
	if len(got) != len(want) {
		t.Fatalf("expected %d delays, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	st, err := statefile.Load(statefile.Path(eng.cfg.DataDir))
	if err != nil {
		t.Fatalf("failed to load state file: %v", err)
	}
	if st.BootstrapAttempts != 5 {
		t.Errorf("expected 5 persisted attempts, got %d", st.BootstrapAttempts)
	}

	ev := <-failedCh
	failed := ev.Payload.(events.ImportFailed)
	if failed.Reason != "max attempts reached" {
		t.Errorf("expected reason %q, got %q", "max attempts reached", failed.Reason)
	}
}

func TestBootstrapFreshInstallImportsRemoteData(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	completedCh, cancel := bus.Subscribe(events.TopicImportCompleted)
	defer cancel()

	fake := &fakeChannel{configured: true}
	for i := 0; i < 3; i++ {
		fake.seed = append(fake.seed, schema.NewEntry(schema.KindAffirmation, fmt.Sprintf("remote record %d", i)))
	}
	eng, sleeps := newTestEngine(t, fake, bus)
	fake.store = eng.Store()

	if err := eng.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if got := eng.BootstrapState(); got != BootstrapSettled {
		t.Errorf("expected settled state, got %v", got)
	}

	ev := <-completedCh
	completed := ev.Payload.(events.ImportCompleted)
	if !completed.HasData {
		t.Error("expected imported data reported")
	}
	if completed.Records != 3 {
		t.Errorf("expected 3 imported records, got %d", completed.Records)
	}

	if got := sleeps(); len(got) != 1 || got[0] != 5*time.Second {
		t.Errorf("expected one 5s delay before the first attempt, got %v", got)
	}

	st, err := statefile.Load(statefile.Path(eng.cfg.DataDir))
	if err != nil {
		t.Fatalf("failed to load state file: %v", err)
	}
	if st.BootstrapAttempts != 0 {
		t.Errorf("expected attempts reset, got %d", st.BootstrapAttempts)
	}
	if st.LastSyncedAt.IsZero() {
		t.Error("expected last-synced timestamp recorded")
	}
}

func TestBootstrapAccountUnavailableIsTerminal(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	failedCh, cancel := bus.Subscribe(events.TopicImportFailed)
	defer cancel()

	fake := &fakeChannel{
		configured: true,
		accountErr: fmt.Errorf("%w: primary rejected credentials", channel.ErrAccountUnavailable),
	}
	eng, _ := newTestEngine(t, fake, bus)
	fake.store = eng.Store()

	err := eng.Bootstrap(context.Background())
	if !errors.Is(err, channel.ErrAccountUnavailable) {
		t.Fatalf("expected ErrAccountUnavailable, got %v", err)
	}
	if got := eng.BootstrapState(); got != BootstrapAccountUnavailable {
		t.Errorf("expected account-unavailable state, got %v", got)
	}

	syncs, _ := fake.calls()
	if syncs != 0 {
		t.Errorf("expected no import attempts, got %d", syncs)
	}

	ev := <-failedCh
	failed := ev.Payload.(events.ImportFailed)
	if !failed.AccountUnavailable {
		t.Error("expected account-unavailable flag set")
	}
}

func TestBootstrapSkipsWhenLocalDataExists(t *testing.T) {
	fake := &fakeChannel{configured: true}
	eng, _ := newTestEngine(t, fake, nil)
	fake.store = eng.Store()

	ctx := context.Background()
	e := schema.NewEntry(schema.KindJournal, "already here")
	if err := eng.Store().UpsertEntryContext(ctx, e); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}

	if err := eng.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if got := eng.BootstrapState(); got != BootstrapSettled {
		t.Errorf("expected settled state, got %v", got)
	}
	syncs, _ := fake.calls()
	if syncs != 0 {
		t.Errorf("expected no import attempts over existing data, got %d", syncs)
	}
}

func TestBootstrapResumesPersistedAttempts(t *testing.T) {
	fake := &fakeChannel{configured: true, syncErr: errors.New("still down")}
	eng, sleeps := newTestEngine(t, fake, nil)
	fake.store = eng.Store()

	if err := statefile.Save(statefile.Path(eng.cfg.DataDir), statefile.State{BootstrapAttempts: 4}); err != nil {
		t.Fatalf("failed to seed state file: %v", err)
	}

	err := eng.Bootstrap(context.Background())
	if !errors.Is(err, ErrBootstrapExhausted) {
		t.Fatalf("expected ErrBootstrapExhausted, got %v", err)
	}

	syncs, _ := fake.calls()
	if syncs != 1 {
		t.Errorf("expected a single remaining attempt, got %d", syncs)
	}
	if got := sleeps(); len(got) != 1 || got[0] != 60*time.Second {
		t.Errorf("expected the final 60s delay, got %v", got)
	}
}

func TestRequestImmediateSyncResetsExhaustedBootstrap(t *testing.T) {
	fake := &fakeChannel{configured: true, syncErr: errors.New("down")}
	eng, _ := newTestEngine(t, fake, nil)
	fake.store = eng.Store()

	ctx := context.Background()
	if err := eng.Bootstrap(ctx); !errors.Is(err, ErrBootstrapExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}

	// The backend recovers and a record shows up.
	fake.mu.Lock()
	fake.syncErr = nil
	fake.seed = []*schema.Entry{schema.NewEntry(schema.KindJournal, "finally")}
	fake.mu.Unlock()

	if err := eng.RequestImmediateSync(ctx); err != nil {
		t.Fatalf("RequestImmediateSync failed: %v", err)
	}
	if got := eng.BootstrapState(); got != BootstrapSettled {
		t.Errorf("expected settled state after manual sync, got %v", got)
	}

	count, err := eng.Store().CountEntries(ctx, "")
	if err != nil {
		t.Fatalf("failed to count entries: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 imported record, got %d", count)
	}
}

func TestRequestImmediateSyncAlwaysResetsAttemptCounter(t *testing.T) {
	fake := &fakeChannel{configured: true}
	eng, _ := newTestEngine(t, fake, nil)
	fake.store = eng.Store()
	eng.setBootstrapState(BootstrapSettled)

	// Leftover attempts from an interrupted earlier run.
	if err := statefile.Save(statefile.Path(eng.cfg.DataDir), statefile.State{BootstrapAttempts: 3}); err != nil {
		t.Fatalf("failed to seed state file: %v", err)
	}

	if err := eng.RequestImmediateSync(context.Background()); err != nil {
		t.Fatalf("RequestImmediateSync failed: %v", err)
	}

	st, err := statefile.Load(statefile.Path(eng.cfg.DataDir))
	if err != nil {
		t.Fatalf("failed to load state file: %v", err)
	}
	if st.BootstrapAttempts != 0 {
		t.Errorf("expected attempt counter reset, got %d", st.BootstrapAttempts)
	}

	syncs, _ := fake.calls()
	if syncs != 1 {
		t.Errorf("expected a plain sync, got %d calls", syncs)
	}
}

func TestSaveIsNoopWhenClean(t *testing.T) {
	fake := &fakeChannel{configured: true}
	eng, _ := newTestEngine(t, fake, nil)
	fake.store = eng.Store()

	if err := eng.Save(context.Background()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	_, pushes := fake.calls()
	if pushes != 0 {
		t.Errorf("clean save should not push, got %d pushes", pushes)
	}
}

func TestSavePushesDirtyWrites(t *testing.T) {
	fake := &fakeChannel{configured: true}
	eng, _ := newTestEngine(t, fake, nil)
	fake.store = eng.Store()

	ctx := context.Background()
	e := schema.NewEntry(schema.KindAffirmation, "push me")
	if err := eng.Store().UpsertEntryContext(ctx, e); err != nil {
		t.Fatalf("failed to write entry: %v", err)
	}

	if err := eng.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	_, pushes := fake.calls()
	if pushes != 1 {
		t.Errorf("expected 1 push, got %d", pushes)
	}
}

func TestDeleteAllPublishesEachDeletion(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	deletedCh, cancel := bus.Subscribe(events.TopicEntryDeleted)
	defer cancel()

	eng, _ := newTestEngine(t, nil, bus)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		e := schema.NewEntry(schema.KindJournal, fmt.Sprintf("entry %d", i))
		if err := eng.Store().UpsertEntryContext(ctx, e); err != nil {
			t.Fatalf("failed to seed entry: %v", err)
		}
		ids = append(ids, e.ID)
	}
	keeper := schema.NewEntry(schema.KindAffirmation, "survivor")
	if err := eng.Store().UpsertEntryContext(ctx, keeper); err != nil {
		t.Fatalf("failed to seed survivor: %v", err)
	}

	n, err := eng.DeleteAll(ctx, schema.KindJournal)
	if err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deletions, got %d", n)
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		ev := <-deletedCh
		seen[ev.Payload.(events.EntryDeleted).EntryID] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("missing deletion event for %q", id)
		}
	}

	if _, err := eng.Store().GetEntryByID(ctx, keeper.ID); err != nil {
		t.Errorf("other kind should survive: %v", err)
	}
}

func TestSentinelFileTriggersSync(t *testing.T) {
	fake := &fakeChannel{configured: true}
	eng, _ := newTestEngine(t, fake, nil)
	fake.store = eng.Store()
	eng.setBootstrapState(BootstrapSettled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.WatchSyncRequests(ctx); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}

	if err := RequestSyncFile(eng.cfg.DataDir); err != nil {
		t.Fatalf("failed to write sentinel: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if syncs, _ := fake.calls(); syncs > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("sentinel file never triggered a sync")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
