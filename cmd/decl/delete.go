package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/speaklife/declarations/internal/schema"
	"github.com/speaklife/declarations/internal/ui"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	GroupID: "records",
	Short:   "Delete an owned record",
	Long: `Delete one owned record by id or unambiguous id prefix.

Use --legacy to delete by a legacy identifier from older app releases:
  decl delete --legacy "I am blessedmyOwnjournal"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := openRuntime(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.close()

		ctx := context.Background()
		legacy, _ := cmd.Flags().GetBool("legacy")

		if legacy {
			n, err := rt.svc.DeleteLegacy(ctx, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if n == 0 {
				fmt.Printf("%s No records matched the legacy identifier\n", ui.RenderWarn("⚠"))
				return
			}
			fmt.Printf("%s Deleted %d record(s)\n", ui.RenderPass("✓"), n)
			return
		}

		e, err := resolveEntry(ctx, rt, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		contentType := schema.ContentJournal
		if e.Kind == schema.KindAffirmation {
			contentType = schema.ContentAffirmation
		}
		if err := rt.svc.DeleteByID(ctx, contentType, e.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Deleted %s %q\n", ui.RenderPass("✓"), e.Kind, e.Text)
	},
}

var deleteAllCmd = &cobra.Command{
	Use:     "delete-all <journal|affirmation>",
	GroupID: "records",
	Short:   "Delete every owned record of one kind",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := openRuntime(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.close()

		r, err := rt.repositoryFor(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		kind := r.Kind()

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			var confirmed bool
			prompt := huh.NewConfirm().
				Title(fmt.Sprintf("Delete ALL %s records?", kind)).
				Description("Deletions replicate to the cloud backend and cannot be undone.").
				Value(&confirmed)
			if err := prompt.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !confirmed {
				fmt.Println("Aborted")
				return
			}
		}

		n, err := rt.eng.DeleteAll(context.Background(), kind)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Deleted %d %s record(s)\n", ui.RenderPass("✓"), n, kind)
	},
}

func init() {
	deleteCmd.Flags().Bool("legacy", false, "Treat the argument as a legacy identifier")
	deleteAllCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(deleteAllCmd)
}
