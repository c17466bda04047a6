package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/speaklife/declarations/internal/engine"
	"github.com/speaklife/declarations/internal/migrate"
	"github.com/speaklife/declarations/internal/statefile"
	"github.com/speaklife/declarations/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	GroupID: "advanced",
	Short:   "Import declarations from the legacy flat file",
	Long: `Run the one-shot legacy migration against the flat file older app
releases wrote (declarations.jsonl in the data directory, or --file).

The migration runs automatically on first startup; this command exists to
re-point it at a different file or to force a re-run with --reset.`,
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := openRuntime(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.close()

		reset, _ := cmd.Flags().GetBool("reset")
		if reset {
			if _, err := statefile.Update(statefile.Path(rt.cfg.DataDir), func(s *statefile.State) {
				s.MigrationComplete = false
			}); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		legacyPath, _ := cmd.Flags().GetString("file")
		if legacyPath == "" {
			legacyPath = filepath.Join(rt.cfg.DataDir, engine.LegacyFileName)
		}

		mgr := migrate.New(rt.eng.Store(), statefile.Path(rt.cfg.DataDir), legacyPath, nil)
		res, err := mgr.MigrateLegacyData(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: migration failed: %v\n", err)
			os.Exit(1)
		}

		if res.AlreadyComplete {
			fmt.Printf("%s Migration already complete (use --reset to re-run)\n", ui.RenderWarn("⚠"))
			return
		}
		fmt.Printf("%s Migration complete\n", ui.RenderPass("✓"))
		fmt.Printf("   Imported: %d\n", res.Imported)
		fmt.Printf("   Skipped: %d\n", res.Skipped)
	},
}

func init() {
	migrateCmd.Flags().String("file", "", "Legacy flat file (default <data-dir>/declarations.jsonl)")
	migrateCmd.Flags().Bool("reset", false, "Clear the migration marker and re-run")
	rootCmd.AddCommand(migrateCmd)
}
