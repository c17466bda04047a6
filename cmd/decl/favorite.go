package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/speaklife/declarations/internal/schema"
	"github.com/speaklife/declarations/internal/store"
	"github.com/speaklife/declarations/internal/ui"
)

var favoriteCmd = &cobra.Command{
	Use:     "favorite <id>",
	GroupID: "records",
	Short:   "Toggle a record's favorite flag",
	Long: `Toggle the favorite flag on an owned record.

Accepts a full record id or an unambiguous prefix.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := openRuntime(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rt.close()

		ctx := context.Background()
		e, err := resolveEntry(ctx, rt, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		e.IsFavorite = !e.IsFavorite
		r := rt.journals
		if e.Kind == schema.KindAffirmation {
			r = rt.affirmations
		}
		if err := r.Save(ctx, e); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		state := "unfavorited"
		glyph := ui.RenderFaint("☆")
		if e.IsFavorite {
			state = "favorited"
			glyph = ui.RenderWarn("★")
		}
		fmt.Printf("%s %s %q\n", glyph, state, e.Text)
	},
}

// resolveEntry finds an entry by full id or unique prefix, across both
// kinds.
func resolveEntry(ctx context.Context, rt *runtime, idArg string) (*schema.Entry, error) {
	e, err := rt.eng.Store().GetEntryByID(ctx, idArg)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	entries, err := rt.eng.Store().ListEntries(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}
	var matches []*schema.Entry
	for _, candidate := range entries {
		if strings.HasPrefix(candidate.ID, idArg) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no record matches %q", idArg)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("id prefix %q is ambiguous (%d matches)", idArg, len(matches))
	}
}

func init() {
	rootCmd.AddCommand(favoriteCmd)
}
