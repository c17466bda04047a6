package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/speaklife/declarations/internal/schema"
	"github.com/speaklife/declarations/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <journal|affirmation> <text>",
	GroupID: "records",
	Short:   "Create a new journal entry or affirmation",
	Long: `Create an owned record of the given kind.

Examples:
  decl add journal "Today I chose gratitude over worry"
  decl add affirmation "I walk in peace" --verse "John 14:27" --favorite`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := openRuntime(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.close()

		contentType := schema.ContentAffirmation
		if args[0] == "journal" || args[0] == "journals" {
			contentType = schema.ContentJournal
		} else if args[0] != "affirmation" && args[0] != "affirmations" {
			fmt.Fprintf(os.Stderr, "Error: unknown kind %q (want journal or affirmation)\n", args[0])
			os.Exit(1)
		}

		verse, _ := cmd.Flags().GetString("verse")
		favorite, _ := cmd.Flags().GetBool("favorite")

		e, err := rt.svc.CreateSingleDeclaration(context.Background(), schema.Declaration{
			Text:           args[1],
			Category:       schema.CategoryMyOwn,
			ContentType:    contentType,
			BibleVerseText: verse,
			IsFavorite:     favorite,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Created %s %s\n", ui.RenderPass("✓"), e.Kind, ui.RenderAccent(e.ID))
	},
}

func init() {
	addCmd.Flags().String("verse", "", "Bible verse text to attach")
	addCmd.Flags().Bool("favorite", false, "Mark as favorite")
	rootCmd.AddCommand(addCmd)
}
