package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/speaklife/declarations/internal/ui"
)

var dedupeCmd = &cobra.Command{
	Use:     "dedupe",
	GroupID: "advanced",
	Short:   "Remove duplicate records",
	Long: `Collapse records that share the same text within a kind, keeping
the earliest. Duplicates appear when two devices create the same record
before either has synced.`,
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := openRuntime(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.close()

		n, err := rt.svc.RemoveDuplicates(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		n += rt.svc.StartupScrubCount()
		if n == 0 {
			fmt.Printf("%s No duplicates found\n", ui.RenderPass("✓"))
			return
		}
		fmt.Printf("%s Removed %d duplicate record(s)\n", ui.RenderPass("✓"), n)
	},
}

func init() {
	rootCmd.AddCommand(dedupeCmd)
}
