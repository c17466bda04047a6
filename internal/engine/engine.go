// Package engine supervises the persistence stack: it decides which store
// mode to run (replicated, plain file, or ephemeral), runs the one-shot
// legacy migration, drives the bootstrap import retry loop for fresh
// installs, and exposes the save/sync entry points the app calls.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/speaklife/declarations/internal/channel"
	"github.com/speaklife/declarations/internal/events"
	"github.com/speaklife/declarations/internal/migrate"
	"github.com/speaklife/declarations/internal/schema"
	"github.com/speaklife/declarations/internal/statefile"
	"github.com/speaklife/declarations/internal/store"
)

// DBFileName is the on-disk database file under the data directory.
const DBFileName = "declarations.db"

// LegacyFileName is the flat file older releases persisted declarations to.
const LegacyFileName = "declarations.jsonl"

// maxBootstrapAttempts bounds the import retry loop.
const maxBootstrapAttempts = 5

// bootstrapDelays is the wait before each import attempt.
var bootstrapDelays = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// ErrBootstrapExhausted means the import retry loop hit its attempt bound.
// Terminal until the user requests a sync, which resets the counter.
var ErrBootstrapExhausted = errors.New("bootstrap import: max attempts reached")

// BootstrapState tracks where the fresh-install import stands.
type BootstrapState int

const (
	// BootstrapUnknown means bootstrap has not run yet.
	BootstrapUnknown BootstrapState = iota
	// BootstrapCheckingAccount means the cloud identity probe is in flight.
	BootstrapCheckingAccount
	// BootstrapNoAccount means no cloud credentials are configured; the
	// engine runs local-only.
	BootstrapNoAccount
	// BootstrapAccountUnavailable means the cloud identity was rejected.
	// Terminal; never retried automatically.
	BootstrapAccountUnavailable
	// BootstrapImporting means an import attempt is in flight.
	BootstrapImporting
	// BootstrapSettled means import completed (or local data already exists).
	BootstrapSettled
	// BootstrapRetrying means an attempt failed and the next is scheduled.
	BootstrapRetrying
	// BootstrapExhausted means all attempts failed.
	BootstrapExhausted
)

// String returns a human-readable state name.
func (s BootstrapState) String() string {
	switch s {
	case BootstrapCheckingAccount:
		return "checking account"
	case BootstrapNoAccount:
		return "no account"
	case BootstrapAccountUnavailable:
		return "account unavailable"
	case BootstrapImporting:
		return "importing"
	case BootstrapSettled:
		return "settled"
	case BootstrapRetrying:
		return "retrying"
	case BootstrapExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Replicator is the managed sync channel the engine drives. Satisfied by
// *channel.Channel.
type Replicator interface {
	Configured() bool
	AccountAvailable(ctx context.Context) error
	Connect(ctx context.Context) (*sql.DB, error)
	Sync(ctx context.Context) (channel.Stats, error)
	Push(ctx context.Context) (channel.Stats, error)
	Start(ctx context.Context)
	Close() error
}

// Config holds engine wiring.
type Config struct {
	// DataDir is where the database, state file, and legacy file live.
	DataDir string
	// Environment selects failure handling: "dev" makes a broken
	// replicated stack fatal, anything else falls back to ephemeral.
	Environment string
	// Channel is the managed sync channel; nil or unconfigured runs
	// local-only.
	Channel Replicator
	// Bus carries lifecycle events; optional.
	Bus *events.Bus
	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger
	// Sleep is the retry delay hook; tests inject their own.
	Sleep func(time.Duration)
}

// Engine owns the store and the sync lifecycle around it.
type Engine struct {
	cfg    Config
	bus    *events.Bus
	logger *log.Logger
	sleep  func(time.Duration)

	store     *store.Store
	statePath string

	mu        sync.Mutex
	bootState BootstrapState

	watcher *sentinelWatcher
}

// New creates an engine. Initialize must be called before use.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Engine{
		cfg:       cfg,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		sleep:     cfg.Sleep,
		statePath: statefile.Path(cfg.DataDir),
	}
}

// Store returns the live store handle. Valid after Initialize.
func (e *Engine) Store() *store.Store {
	return e.store
}

// BootstrapState returns where the fresh-install import stands.
func (e *Engine) BootstrapState() BootstrapState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bootState
}

func (e *Engine) setBootstrapState(s BootstrapState) {
	e.mu.Lock()
	e.bootState = s
	e.mu.Unlock()
}

// Initialize opens the store, applies the schema, and runs the one-shot
// legacy migration. With inMemory set everything is ephemeral. With a
// configured channel the store runs on the embedded replica; if the replica
// cannot open, development environments fail hard and everything else falls
// back to an ephemeral store so the app still launches.
func (e *Engine) Initialize(ctx context.Context, inMemory bool) error {
	st, err := e.openStore(ctx, inMemory)
	if err != nil {
		return err
	}
	e.store = st

	if err := e.store.InitSchemaContext(ctx); err != nil {
		e.store.Close()
		e.store = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Migration failures are informational: the marker flips before the
	// import so a broken legacy file can never wedge startup.
	legacyPath := filepath.Join(e.cfg.DataDir, LegacyFileName)
	mig := migrate.New(e.store, e.statePath, legacyPath, e.logger)
	if res, err := mig.MigrateLegacyData(ctx); err != nil {
		e.logger.Printf("WARNING: legacy migration incomplete: %v", err)
	} else if res.Imported > 0 {
		e.logger.Printf("Migrated %d legacy declarations (%d skipped)", res.Imported, res.Skipped)
	}

	return nil
}

func (e *Engine) openStore(ctx context.Context, inMemory bool) (*store.Store, error) {
	if inMemory {
		return store.OpenMemory()
	}

	if e.cfg.Channel != nil && e.cfg.Channel.Configured() {
		db, err := e.cfg.Channel.Connect(ctx)
		if err == nil {
			return store.Wrap(db, filepath.Join(e.cfg.DataDir, DBFileName))
		}
		if e.cfg.Environment == "dev" || e.cfg.Environment == "development" {
			return nil, fmt.Errorf("failed to open replicated store: %w", err)
		}
		e.logger.Printf("WARNING: replicated store unavailable, falling back to ephemeral: %v", err)
		return store.OpenMemory()
	}

	if err := os.MkdirAll(e.cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return store.Open(filepath.Join(e.cfg.DataDir, DBFileName))
}

// Bootstrap runs the fresh-install import. When the local store already has
// records there is nothing to import. Otherwise it waits out the retry
// schedule, attempting a pull before each deadline, until data lands, the
// account turns out to be unusable, or the attempt bound is hit. The
// attempt counter persists across restarts.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.setBootstrapState(BootstrapCheckingAccount)

	if e.cfg.Channel == nil || !e.cfg.Channel.Configured() {
		e.setBootstrapState(BootstrapNoAccount)
		count, err := e.store.CountEntries(ctx, "")
		if err != nil {
			return err
		}
		e.publish(events.TopicImportCompleted, events.ImportCompleted{HasData: count > 0, Records: count})
		return nil
	}

	if err := e.cfg.Channel.AccountAvailable(ctx); err != nil {
		if errors.Is(err, channel.ErrAccountUnavailable) {
			e.setBootstrapState(BootstrapAccountUnavailable)
			e.recordBootstrapFailure(err.Error())
			e.publish(events.TopicImportFailed, events.ImportFailed{
				Reason:             err.Error(),
				AccountUnavailable: true,
			})
			return err
		}
		return err
	}

	count, err := e.store.CountEntries(ctx, "")
	if err != nil {
		return err
	}
	if count > 0 {
		e.settleBootstrap(count)
		return nil
	}

	st, err := statefile.Load(e.statePath)
	if err != nil {
		e.logger.Printf("WARNING: failed to load state file, starting attempts at zero: %v", err)
	}

	e.publish(events.TopicImportStarted, nil)
	e.setBootstrapState(BootstrapImporting)

	for attempt := st.BootstrapAttempts; attempt < maxBootstrapAttempts; attempt++ {
		e.sleep(bootstrapDelays[attempt])
		if err := ctx.Err(); err != nil {
			return err
		}

		// Retry is keyed on data absence, not sync failure: the backend
		// can serve a clean empty pull before asynchronous propagation
		// completes, which is exactly what the schedule waits out.
		_, syncErr := e.cfg.Channel.Sync(ctx)
		if syncErr == nil {
			count, err := e.store.CountEntries(ctx, "")
			if err != nil {
				return err
			}
			if count > 0 {
				e.settleBootstrap(count)
				return nil
			}
			e.logger.Printf("Bootstrap import attempt %d/%d found no data yet", attempt+1, maxBootstrapAttempts)
		} else {
			e.logger.Printf("Bootstrap import attempt %d/%d failed: %v", attempt+1, maxBootstrapAttempts, syncErr)
		}

		e.setBootstrapState(BootstrapRetrying)
		if _, err := statefile.Update(e.statePath, func(s *statefile.State) {
			s.BootstrapAttempts = attempt + 1
		}); err != nil {
			e.logger.Printf("WARNING: failed to persist bootstrap attempt count: %v", err)
		}
	}

	e.setBootstrapState(BootstrapExhausted)
	e.recordBootstrapFailure(ErrBootstrapExhausted.Error())
	e.publish(events.TopicImportFailed, events.ImportFailed{Reason: "max attempts reached"})
	return ErrBootstrapExhausted
}

func (e *Engine) settleBootstrap(count int) {
	e.setBootstrapState(BootstrapSettled)
	if _, err := statefile.Update(e.statePath, func(s *statefile.State) {
		s.BootstrapAttempts = 0
		s.BootstrapReason = ""
		s.LastSyncedAt = time.Now().UTC()
	}); err != nil {
		e.logger.Printf("WARNING: failed to persist bootstrap completion: %v", err)
	}
	e.publish(events.TopicImportCompleted, events.ImportCompleted{HasData: count > 0, Records: count})
}

func (e *Engine) recordBootstrapFailure(reason string) {
	if _, err := statefile.Update(e.statePath, func(s *statefile.State) {
		s.BootstrapReason = reason
	}); err != nil {
		e.logger.Printf("WARNING: failed to persist bootstrap failure: %v", err)
	}
}

// Save flushes pending writes to disk and, when anything moved, pushes the
// frames up the channel. A clean store is a no-op.
func (e *Engine) Save(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("engine not initialized")
	}
	flushed, err := e.store.Flush(ctx)
	if err != nil {
		return fmt.Errorf("failed to flush store: %w", err)
	}
	if !flushed {
		return nil
	}
	if e.cfg.Channel != nil && e.cfg.Channel.Configured() {
		if _, err := e.cfg.Channel.Push(ctx); err != nil {
			return fmt.Errorf("failed to push local changes: %w", err)
		}
	}
	return nil
}

// RequestImmediateSync flushes local writes and pulls remote changes now.
// It also clears a terminal bootstrap failure: the attempt counter resets
// and the import re-runs, so a user tap is the escape hatch from the
// exhausted state.
func (e *Engine) RequestImmediateSync(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("engine not initialized")
	}
	if _, err := e.store.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush store: %w", err)
	}
	if e.cfg.Channel == nil || !e.cfg.Channel.Configured() {
		return nil
	}

	// An explicit user request always restarts the retry budget, even when
	// the previous bootstrap is still mid-schedule.
	if _, err := statefile.Update(e.statePath, func(s *statefile.State) {
		s.BootstrapAttempts = 0
		s.BootstrapReason = ""
	}); err != nil {
		e.logger.Printf("WARNING: failed to reset bootstrap attempts: %v", err)
	}

	state := e.BootstrapState()
	if state == BootstrapExhausted || state == BootstrapAccountUnavailable {
		return e.Bootstrap(ctx)
	}

	if _, err := e.cfg.Channel.Sync(ctx); err != nil {
		return err
	}
	return nil
}

// DeleteAll wipes every entry of one kind and announces each deletion.
// Returns how many entries were removed.
func (e *Engine) DeleteAll(ctx context.Context, kind schema.Kind) (int, error) {
	ids, err := e.store.DeleteAllKind(ctx, kind)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		e.publish(events.TopicEntryDeleted, events.EntryDeleted{EntryID: id})
	}
	return len(ids), nil
}

// Close releases the watcher, the channel, and the store, in that order.
func (e *Engine) Close() error {
	var errs []error
	if e.watcher != nil {
		if err := e.watcher.stop(); err != nil {
			errs = append(errs, err)
		}
		e.watcher = nil
	}
	if e.cfg.Channel != nil {
		if err := e.cfg.Channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
		e.store = nil
	}
	return errors.Join(errs...)
}

func (e *Engine) publish(topic string, payload interface{}) {
	if e.bus != nil {
		e.bus.Publish(topic, payload)
	}
}
