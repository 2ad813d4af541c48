package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/listing-lab/listing-lab/internal/lifecycle"
	"github.com/listing-lab/listing-lab/internal/store"
)

func init() {
	rootCmd.AddCommand(newAcceptCmd())
	rootCmd.AddCommand(newKeepCmd())
	rootCmd.AddCommand(newRevertCmd())
}

func newAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <listing-id> <experiment-id>",
		Short: "Apply an untested experiment's change and start the test",
		Long: `Apply the queued change to the live listing and move the experiment to
testing. The most recent performance row becomes the baseline, and the
planned end date is set from the run duration.

If the marketplace call fails the experiment stays untested.`,
		Args: cobra.ExactArgs(2),
		RunE: runLifecycleOp("accept", func(ctx context.Context, engine *lifecycle.Engine, listingID int64, experimentID string) (*store.Experiment, error) {
			return engine.Accept(ctx, listingID, experimentID)
		}, func(exp *store.Experiment) {
			fmt.Printf("Experiment %s is now testing (started %s, planned end %s).\n",
				exp.ID, exp.StartDate, exp.PlannedEndDate)
			if exp.Baseline == nil {
				fmt.Println("No performance history yet; evaluation is blocked until a baseline exists.")
			}
		}),
	}
}

func newKeepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keep <listing-id> <experiment-id>",
		Short: "Finalize an experiment, keeping the applied change",
		Args:  cobra.ExactArgs(2),
		RunE: runLifecycleOp("keep", func(ctx context.Context, engine *lifecycle.Engine, listingID int64, experimentID string) (*store.Experiment, error) {
			return engine.Keep(ctx, listingID, experimentID)
		}, func(exp *store.Experiment) {
			fmt.Printf("Experiment %s kept; the change stays live. Ended %s.\n", exp.ID, exp.EndDate)
		}),
	}
}

func newRevertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revert <listing-id> <experiment-id>",
		Short: "Finalize an experiment, restoring the pre-change snapshot",
		Long: `Restore the listing field the experiment changed to its pre-change
snapshot. For thumbnail experiments the snapshotted ordering is restored
and images added since acceptance are appended after it.`,
		Args: cobra.ExactArgs(2),
		RunE: runLifecycleOp("revert", func(ctx context.Context, engine *lifecycle.Engine, listingID int64, experimentID string) (*store.Experiment, error) {
			return engine.Revert(ctx, listingID, experimentID)
		}, func(exp *store.Experiment) {
			fmt.Printf("Experiment %s reverted; the pre-change state is restored. Ended %s.\n", exp.ID, exp.EndDate)
		}),
	}
}

// runLifecycleOp builds the RunE for the listing-id + experiment-id commands.
func runLifecycleOp(name string, op func(context.Context, *lifecycle.Engine, int64, string) (*store.Experiment, error), report func(*store.Experiment)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		listingID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid listing id: %s", args[0])
		}
		experimentID := args[1]

		return withEngine(func(engine *lifecycle.Engine, s *store.SQLiteStore) error {
			exp, err := op(context.Background(), engine, listingID, experimentID)
			if err != nil {
				return fmt.Errorf("%s failed: %w", name, err)
			}
			report(exp)
			return nil
		})
	}
}
