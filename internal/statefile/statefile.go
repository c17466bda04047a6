// Package statefile persists the engine's small out-of-store state: the
// bootstrap attempt counter, the one-shot migration marker, and sync
// bookkeeping. The state lives outside the record store on purpose so that
// wiping or re-seeding the store never re-triggers migration.
package statefile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the canonical state file name inside the data directory.
const FileName = "state.toml"

// State is read and written atomically as a whole. Zero value is the state
// of a fresh install.
type State struct {
	// MigrationComplete is set before the legacy import starts so repeated
	// launches never re-import.
	MigrationComplete bool `toml:"migration_complete"`

	// BootstrapAttempts counts bootstrap-import retries consumed so far.
	// RequestImmediateSync resets it to zero.
	BootstrapAttempts int `toml:"bootstrap_attempts"`

	// BootstrapReason records why the last bootstrap run ended, for
	// user-facing diagnostics ("max attempts reached", account errors).
	BootstrapReason string `toml:"bootstrap_reason,omitempty"`

	// LastSyncedAt is the end time of the last clean sync event.
	LastSyncedAt time.Time `toml:"last_synced_at,omitempty"`
}

// Path returns the state file path for a data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Load reads the state file. A missing file yields the zero state.
func Load(path string) (State, error) {
	var st State
	data, err := os.ReadFile(path) // #nosec G304 - path comes from config
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to read state file: %w", err)
	}
	if err := toml.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("failed to parse state file: %w", err)
	}
	return st, nil
}

// Save writes the state atomically via a temp file and rename.
func Save(path string, st State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(st); err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write state temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Update loads the state, applies fn, and saves the result.
func Update(path string, fn func(*State)) (State, error) {
	st, err := Load(path)
	if err != nil {
		return st, err
	}
	fn(&st)
	if err := Save(path, st); err != nil {
		return st, err
	}
	return st, nil
}
