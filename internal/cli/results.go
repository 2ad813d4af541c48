package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/listing-lab/listing-lab/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <listing-id>",
	Short: "Show a listing's experiment history with evaluation results",
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	listingID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid listing id: %s", args[0])
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		listing, err := s.GetListing(ctx, listingID)
		if err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("listing %d not found; run 'llab sync' first", listingID)
			}
			return err
		}

		experiments, err := s.ListListingExperiments(ctx, listingID,
			store.StateUntested, store.StateTesting, store.StateKept, store.StateReverted)
		if err != nil {
			return err
		}

		fmt.Printf("LISTING: %d\n", listing.ID)
		fmt.Printf("TITLE:   %s\n", listing.Title)
		fmt.Printf("VIEWS:   %d\n", listing.Views)
		fmt.Println()

		if len(experiments) == 0 {
			fmt.Println("No experiments yet.")
			return nil
		}

		fmt.Println("CHANGE       STATE      STARTED     ENDED       DELTA     ACTION")
		fmt.Println(strings.Repeat("─", 68))

		today := store.Today()
		for _, exp := range experiments {
			delta, action := "-", "-"
			if exp.Evaluation != nil {
				delta = fmt.Sprintf("%+.1f%%", exp.Evaluation.PctChange*100)
				action = string(exp.Evaluation.RecommendedAction)
				if exp.Evaluation.LowConfidence {
					action += " (low conf)"
				}
			}
			fmt.Printf("%-11s  %-9s  %-10s  %-10s  %-8s  %s\n",
				exp.Change.Type(),
				exp.EffectiveState(today),
				orDash(exp.StartDate),
				orDash(exp.EndDate),
				delta,
				action,
			)
		}
		return nil
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
