// Package migrate imports legacy flat-file declarations into the record
// store exactly once.
//
// Earlier app releases kept user declarations in a single JSON-lines file.
// The importer runs at startup, marks completion in the state file before
// touching any data so repeated launches never re-import, and treats every
// failure as non-fatal: the app continues against whichever store already
// has data.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/speaklife/declarations/internal/schema"
	"github.com/speaklife/declarations/internal/statefile"
	"github.com/speaklife/declarations/internal/store"
)

// LegacyDeclaration is one line of the legacy flat-file format.
type LegacyDeclaration struct {
	Text           string    `json:"text"`
	Category       string    `json:"category"`
	ContentType    string    `json:"contentType,omitempty"`
	BibleVerseText string    `json:"bibleVerseText,omitempty"`
	IsFavorite     bool      `json:"isFavorite,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// Result reports migration statistics.
type Result struct {
	// AlreadyComplete means the marker was set on a previous launch and
	// nothing ran.
	AlreadyComplete bool
	// Imported counts records written to the store.
	Imported int
	// Skipped counts lines ignored: non-owned categories, duplicates of
	// records already in the store, and undecodable lines.
	Skipped int
}

// Manager performs the one-shot legacy import.
type Manager struct {
	store      *store.Store
	statePath  string
	legacyPath string
	logger     *log.Logger
}

// New creates a migration manager. A nil logger falls back to stderr.
func New(s *store.Store, statePath, legacyPath string, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}
	return &Manager{store: s, statePath: statePath, legacyPath: legacyPath, logger: logger}
}

// MigrateLegacyData runs the import. The returned error is informational:
// callers log it and continue, migration failure is never fatal and never
// surfaced as a blocking error to the user.
func (m *Manager) MigrateLegacyData(ctx context.Context) (Result, error) {
	st, err := statefile.Load(m.statePath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load migration state: %w", err)
	}
	if st.MigrationComplete {
		return Result{AlreadyComplete: true}, nil
	}

	// Mark complete before importing anything. A crash mid-import loses
	// the remainder of the legacy file rather than risking a double
	// import on the next launch.
	if _, err := statefile.Update(m.statePath, func(s *statefile.State) {
		s.MigrationComplete = true
	}); err != nil {
		return Result{}, fmt.Errorf("failed to persist migration marker: %w", err)
	}

	legacy, err := m.readLegacyFile()
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Printf("No legacy data at %s, nothing to migrate", m.legacyPath)
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("failed to read legacy file: %w", err)
	}

	res := m.importAll(ctx, legacy)
	m.logger.Printf("Migration complete: imported=%d skipped=%d", res.Imported, res.Skipped)
	return res, nil
}

func (m *Manager) readLegacyFile() ([]LegacyDeclaration, error) {
	f, err := os.Open(m.legacyPath) // #nosec G304 - path comes from config
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var decls []LegacyDeclaration
	decoder := json.NewDecoder(f)
	line := 0
	for {
		var d LegacyDeclaration
		if err := decoder.Decode(&d); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return decls, fmt.Errorf("invalid JSON at record %d: %w", line+1, err)
		}
		line++
		decls = append(decls, d)
	}
	return decls, nil
}

// importAll writes owned legacy declarations into the store. Individual
// record failures are logged and skipped.
func (m *Manager) importAll(ctx context.Context, decls []LegacyDeclaration) Result {
	var res Result
	for _, d := range decls {
		if d.Category != schema.CategoryMyOwn || d.Text == "" {
			res.Skipped++
			continue
		}

		kind := schema.KindAffirmation
		if d.ContentType == string(schema.ContentJournal) {
			kind = schema.KindJournal
		}

		// Works against whichever store already has data: a text that
		// exists for this kind was imported or synced previously.
		existing, err := m.store.ListEntries(ctx, store.Filter{Kind: kind, Text: d.Text, Limit: 1})
		if err != nil {
			m.logger.Printf("WARNING: failed to check for %q: %v", d.Text, err)
			res.Skipped++
			continue
		}
		if len(existing) > 0 {
			res.Skipped++
			continue
		}

		e := schema.NewEntry(kind, d.Text)
		e.BibleVerseText = d.BibleVerseText
		e.IsFavorite = d.IsFavorite
		if !d.CreatedAt.IsZero() {
			e.CreatedAt = d.CreatedAt.UTC()
			e.LastModified = e.CreatedAt
		}

		if err := m.store.MergeEntry(ctx, e); err != nil {
			m.logger.Printf("WARNING: failed to import %q: %v", d.Text, err)
			res.Skipped++
			continue
		}
		res.Imported++
	}
	return res
}
