package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/listing-lab/listing-lab/internal/evaluate"
	"github.com/listing-lab/listing-lab/internal/store"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <listing-id> <experiment-id>",
	Short: "Score a running experiment against its baseline",
	Long: `Compute the seasonality-normalized result for a testing or finished
experiment from the recorded performance history, write it back to the
record, and print the recommendation.

Evaluation never changes the experiment's state; use 'llab keep' or
'llab revert' to act on the recommendation.`,
	Args: cobra.ExactArgs(2),
	RunE: runEvaluate,
}

var (
	evaluateDate      string
	evaluateTolerance float64
)

func init() {
	evaluateCmd.Flags().StringVar(&evaluateDate, "date", "", "compare against this date instead of the latest row (YYYY-MM-DD)")
	evaluateCmd.Flags().Float64Var(&evaluateTolerance, "tolerance", 0, "override the configured tolerance for the recommendation")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	listingID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid listing id: %s", args[0])
	}
	experimentID := args[1]

	return withStore(func(s *store.SQLiteStore) error {
		eval, err := evaluate.New(s).EvaluateAt(context.Background(), listingID, experimentID, evaluateDate, evaluateTolerance)
		if err != nil {
			return err
		}

		fmt.Printf("EXPERIMENT: %s\n", experimentID)
		fmt.Printf("BASELINE:   %d views on %s\n", eval.Baseline.Views, eval.Baseline.Date)
		fmt.Printf("LATEST:     %d views on %s\n", eval.Latest.Views, eval.Latest.Date)
		fmt.Println(strings.Repeat("─", 44))
		fmt.Printf("Seasonality factor:  %.3f\n", eval.SeasonalityFactor)
		fmt.Printf("Normalized delta:    %+.1f views (%+.1f%%)\n", eval.Delta, eval.PctChange*100)
		if eval.LowConfidence {
			fmt.Println("Confidence:          low (not enough history)")
		} else {
			fmt.Printf("Confidence:          %.0f%%\n", eval.Confidence*100)
		}
		fmt.Println()
		fmt.Printf("Recommendation: %s\n", strings.ToUpper(string(eval.RecommendedAction)))
		return nil
	})
}
