package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/speaklife/declarations/internal/schema"
	"github.com/speaklife/declarations/internal/store"
	"github.com/speaklife/declarations/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list [journal|affirmation]",
	GroupID: "records",
	Short:   "List owned records",
	Long: `List owned records, newest last.

The --since filter accepts natural language:
  decl list journal --since "last monday"
  decl list --since "3 days ago" --favorites`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := openRuntime(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.close()

		favorites, _ := cmd.Flags().GetBool("favorites")
		limit, _ := cmd.Flags().GetInt("limit")
		sinceArg, _ := cmd.Flags().GetString("since")

		filter := store.Filter{FavoritesOnly: favorites, Limit: limit}
		if sinceArg != "" {
			w := when.New(nil)
			w.Add(en.All...)
			w.Add(common.All...)
			parsed, err := w.Parse(sinceArg, time.Now())
			if err != nil || parsed == nil {
				fmt.Fprintf(os.Stderr, "Error: could not parse --since %q\n", sinceArg)
				os.Exit(1)
			}
			filter.Since = parsed.Time
		}

		kinds := []schema.Kind{schema.KindJournal, schema.KindAffirmation}
		if len(args) == 1 {
			r, err := rt.repositoryFor(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			kinds = []schema.Kind{r.Kind()}
		}

		ctx := context.Background()
		total := 0
		for _, kind := range kinds {
			filter.Kind = kind
			entries, err := rt.eng.Store().ListEntries(ctx, filter)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(entries) == 0 {
				continue
			}

			fmt.Printf("\n%s\n", ui.RenderTitle(fmt.Sprintf("%ss (%d)", kind, len(entries))))
			for _, e := range entries {
				marker := " "
				if e.IsFavorite {
					marker = ui.RenderWarn("★")
				}
				fmt.Printf("  %s %s  %s  %s\n",
					marker,
					ui.RenderAccent(e.ID[:8]),
					e.Text,
					ui.RenderFaint(e.CreatedAt.Local().Format("2006-01-02 15:04")))
				if e.BibleVerseText != "" {
					fmt.Printf("      %s\n", ui.RenderFaint(e.BibleVerseText))
				}
			}
			total += len(entries)
		}

		if total == 0 {
			fmt.Println("No records found")
		} else {
			fmt.Println()
		}
	},
}

func init() {
	listCmd.Flags().Bool("favorites", false, "Only favorites")
	listCmd.Flags().Int("limit", 0, "Limit results per kind (0 = all)")
	listCmd.Flags().String("since", "", "Only records created since (natural language)")
	rootCmd.AddCommand(listCmd)
}
