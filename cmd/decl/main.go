// Command decl manages a local-first declarations library: journal entries
// and affirmations stored in SQLite, optionally replicated to a Turso
// cloud backend.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/speaklife/declarations/internal/api"
	"github.com/speaklife/declarations/internal/catalog"
	"github.com/speaklife/declarations/internal/channel"
	"github.com/speaklife/declarations/internal/config"
	"github.com/speaklife/declarations/internal/engine"
	"github.com/speaklife/declarations/internal/events"
	"github.com/speaklife/declarations/internal/repo"
	"github.com/speaklife/declarations/internal/resolver"
	"github.com/speaklife/declarations/internal/schema"
)

var rootCmd = &cobra.Command{
	Use:   "decl",
	Short: "Local-first declarations library with cloud sync",
	Long: `decl stores journal entries and affirmations in a local SQLite
database and keeps them replicated to a Turso cloud backend when one is
configured. Without cloud credentials everything works offline.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Record commands:"},
		&cobra.Group{ID: "sync", Title: "Sync commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced commands:"},
	)
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (default ~/.declarations)")
	rootCmd.PersistentFlags().Bool("in-memory", false, "Run on an ephemeral in-memory store")
}

// runtime is the wired stack a one-shot command works against.
type runtime struct {
	cfg          config.Config
	bus          *events.Bus
	eng          *engine.Engine
	journals     *repo.Repository
	affirmations *repo.Repository
	svc          *api.Service
}

// openRuntime builds the full stack for a one-shot command: config, store
// (replicated when credentials exist), repositories, and the facade.
func openRuntime(cmd *cobra.Command) (*runtime, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	inMemory, _ := cmd.Flags().GetBool("in-memory")

	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}

	logger := log.New(os.Stderr, "[decl] ", log.LstdFlags)
	bus := events.NewBus()

	var ch engine.Replicator
	if cfg.Turso.PrimaryURL != "" && cfg.Turso.AuthToken != "" {
		ch = channel.New(channel.Config{
			ReplicaPath:  filepath.Join(cfg.DataDir, engine.DBFileName),
			PrimaryURL:   cfg.Turso.PrimaryURL,
			AuthToken:    cfg.Turso.AuthToken,
			SyncInterval: cfg.Turso.SyncInterval,
			Logger:       logger,
		}, bus)
	}

	eng := engine.New(engine.Config{
		DataDir:     cfg.DataDir,
		Environment: cfg.Environment,
		Channel:     ch,
		Bus:         bus,
		Logger:      logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Initialize(ctx, inMemory); err != nil {
		bus.Close()
		return nil, err
	}

	journals := repo.New(eng.Store(), schema.KindJournal)
	affirmations := repo.New(eng.Store(), schema.KindAffirmation)
	res := resolver.New(eng.Store(), logger)

	var provider catalog.Provider
	switch {
	case cfg.Catalog.URL != "":
		provider = catalog.NewHTTPProvider(cfg.Catalog.URL)
	default:
		provider = catalog.NewFileProvider(cfg.Catalog.Path)
	}

	svc := api.New(journals, affirmations, provider, res, bus, logger)

	return &runtime{
		cfg:          cfg,
		bus:          bus,
		eng:          eng,
		journals:     journals,
		affirmations: affirmations,
		svc:          svc,
	}, nil
}

// close flushes pending writes and tears the stack down.
func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.eng.Save(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to flush changes: %v\n", err)
	}
	if err := rt.eng.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: shutdown error: %v\n", err)
	}
	rt.bus.Close()
}

// repositoryFor resolves a kind argument to its repository.
func (rt *runtime) repositoryFor(arg string) (*repo.Repository, error) {
	switch arg {
	case "journal", "journals":
		return rt.journals, nil
	case "affirmation", "affirmations":
		return rt.affirmations, nil
	default:
		return nil, fmt.Errorf("unknown kind %q (want journal or affirmation)", arg)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
