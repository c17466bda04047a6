package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/speaklife/declarations/internal/config"
	"github.com/speaklife/declarations/internal/engine"
	"github.com/speaklife/declarations/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Flush local writes and pull remote changes now",
	Long: `Run one immediate sync pass: flush pending local writes, push them
to the cloud primary, and pull remote-origin changes down.

A terminal bootstrap failure (import retries exhausted, account
unavailable) is cleared and the import re-runs.

With --request the sync is handed to a running 'decl serve' daemon via a
sentinel file instead of running in this process.`,
	Run: func(cmd *cobra.Command, args []string) {
		request, _ := cmd.Flags().GetBool("request")
		if request {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			cfg, err := config.Load(dataDir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if err := engine.RequestSyncFile(cfg.DataDir); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Sync requested\n", ui.RenderPass("✓"))
			return
		}

		rt, err := openRuntime(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.close()

		if err := rt.eng.RequestImmediateSync(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Sync complete\n", ui.RenderPass("✓"))
	},
}

func init() {
	syncCmd.Flags().Bool("request", false, "Hand the sync to a running serve daemon")
	rootCmd.AddCommand(syncCmd)
}
