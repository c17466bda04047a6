package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/speaklife/declarations/internal/config"
	"github.com/speaklife/declarations/internal/engine"
	"github.com/speaklife/declarations/internal/schema"
	"github.com/speaklife/declarations/internal/statefile"
	"github.com/speaklife/declarations/internal/store"
	"github.com/speaklife/declarations/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the local library and sync state",
	Run: func(cmd *cobra.Command, args []string) {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		cfg, err := config.Load(dataDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		dbPath := filepath.Join(cfg.DataDir, engine.DBFileName)
		info, err := os.Stat(dbPath)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s No local library at %s\n", ui.RenderWarn("⚠"), dbPath)
			fmt.Printf("   Run 'decl add' to create your first record\n\n")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st, err := store.Open(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening library: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx := context.Background()
		journals, err := st.CountEntries(ctx, schema.KindJournal)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		affirmations, err := st.CountEntries(ctx, schema.KindAffirmation)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		state, err := statefile.Load(statefile.Path(cfg.DataDir))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not read state file: %v\n", err)
		}

		fmt.Printf("\n%s Declarations Library\n\n", ui.RenderTitle("📖"))
		fmt.Printf("Location: %s\n", dbPath)
		fmt.Printf("Size: %s\n", formatSize(info.Size()))
		fmt.Printf("Journals: %d\n", journals)
		fmt.Printf("Affirmations: %d\n", affirmations)

		if cfg.Turso.PrimaryURL == "" {
			fmt.Printf("Cloud sync: %s\n", ui.RenderFaint("not configured"))
		} else {
			fmt.Printf("Cloud sync: %s\n", ui.RenderAccent(cfg.Turso.PrimaryURL))
			if !state.LastSyncedAt.IsZero() {
				fmt.Printf("Last synced: %s\n", state.LastSyncedAt.Local().Format("2006-01-02 15:04:05"))
			}
			if state.BootstrapReason != "" {
				fmt.Printf("Bootstrap: %s %s\n", ui.RenderErr("✗"), state.BootstrapReason)
			}
			if state.BootstrapAttempts > 0 {
				fmt.Printf("Import attempts: %d\n", state.BootstrapAttempts)
			}
		}
		if state.MigrationComplete {
			fmt.Printf("Legacy migration: %s\n", ui.RenderPass("complete"))
		}
		fmt.Println()
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
