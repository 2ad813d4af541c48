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
	rootCmd.AddCommand(newExtendCmd())
}

func newExtendCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "extend <listing-id> <experiment-id>",
		Short: "Push an experiment's planned end date forward",
		Long: `Extend a testing or finished experiment by a number of days. The
experiment keeps running and drops back onto the testing board until the
new end date passes.

Example:
  llab extend 1234567 3f2a9c --days 7`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			listingID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid listing id: %s", args[0])
			}

			return withEngine(func(engine *lifecycle.Engine, s *store.SQLiteStore) error {
				exp, err := engine.Extend(context.Background(), listingID, args[1], days)
				if err != nil {
					return err
				}
				fmt.Printf("Experiment %s extended; new planned end %s.\n", exp.ID, exp.PlannedEndDate)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 7, "days to add to the planned end date")

	return cmd
}
