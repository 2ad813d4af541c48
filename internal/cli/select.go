package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/listing-lab/listing-lab/internal/lifecycle"
	"github.com/listing-lab/listing-lab/internal/store"
)

func init() {
	rootCmd.AddCommand(newSelectCmd())
}

func newSelectCmd() *cobra.Command {
	var experimentID string

	cmd := &cobra.Command{
		Use:   "select <listing-id>",
		Short: "Pick one bundle option and queue it for acceptance",
		Long: `Pick one option from the listing's proposal bundle. The chosen option
gets a pre-change snapshot and moves to the untested queue; the other two
options stay in the queue as backlog. The bundle is then closed.

Without --experiment, the options are presented interactively.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			listingID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid listing id: %s", args[0])
			}

			return withEngine(func(engine *lifecycle.Engine, s *store.SQLiteStore) error {
				ctx := context.Background()

				if experimentID == "" {
					bundle, err := s.GetBundle(ctx, listingID)
					if err != nil {
						return fmt.Errorf("no live bundle for listing %d; run 'llab propose' first", listingID)
					}
					experimentID, err = pickOption(bundle)
					if err != nil {
						return err
					}
				}

				exp, err := engine.Select(ctx, listingID, experimentID)
				if err != nil {
					return err
				}

				fmt.Printf("Queued experiment %s (%s) for listing %d.\n", exp.ID, exp.Change.Type(), listingID)
				fmt.Println("Run 'llab accept' to apply the change and start the test.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&experimentID, "experiment", "e", "", "experiment id of the option to select")

	return cmd
}

func pickOption(bundle *store.Bundle) (string, error) {
	items := make([]string, 0, len(bundle.Options))
	for _, opt := range bundle.Options {
		items = append(items, fmt.Sprintf("[%s] %s", opt.Change.Type(), describeChange(opt.Change)))
	}

	prompt := promptui.Select{
		Label: "Select an option",
		Items: items,
		Size:  len(items),
	}

	idx, _, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return "", err
	}

	return bundle.Options[idx].ID, nil
}
