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
	rootCmd.AddCommand(newProposeCmd())
}

func newProposeCmd() *cobra.Command {
	var regenerate bool

	cmd := &cobra.Command{
		Use:   "propose <listing-id>",
		Short: "Generate a three-option change bundle for a listing",
		Long: `Ask the generator for three single-variable change options for the
listing. Each option changes exactly one thing: the title, the description,
the tags, or the thumbnail ordering.

The listing must have no outstanding experiment and no live bundle. Use
--regenerate to discard the existing bundle and draw fresh options.

Example:
  llab propose 1234567 --regenerate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			listingID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid listing id: %s", args[0])
			}

			return withEngine(func(engine *lifecycle.Engine, s *store.SQLiteStore) error {
				ctx := context.Background()

				var bundle *store.Bundle
				if regenerate {
					bundle, err = engine.Regenerate(ctx, listingID)
				} else {
					bundle, err = engine.Propose(ctx, listingID)
				}
				if err != nil {
					return err
				}

				fmt.Printf("Generated %d options for listing %d:\n\n", len(bundle.Options), listingID)
				for i, opt := range bundle.Options {
					printOption(i+1, opt)
				}
				fmt.Println("Run 'llab select' to queue one of them.")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "discard the existing bundle first")

	return cmd
}

func printOption(n int, opt *store.Experiment) {
	fmt.Printf("%d. [%s] %s\n", n, opt.Change.Type(), opt.ID)
	fmt.Printf("   %s\n", describeChange(opt.Change))
	if opt.Hypothesis != "" {
		fmt.Printf("   Hypothesis: %s\n", opt.Hypothesis)
	}
	fmt.Println()
}

func describeChange(c store.Change) string {
	switch v := c.(type) {
	case store.TitleChange:
		return fmt.Sprintf("New title: %q", v.NewTitle)
	case store.DescriptionChange:
		return fmt.Sprintf("New description: %s", truncate(v.NewDescription, 80))
	case store.TagsChange:
		return fmt.Sprintf("Add %v, remove %v", v.TagsToAdd, v.TagsToRemove)
	case store.ThumbnailChange:
		return fmt.Sprintf("New image order: %v", v.NewOrdering)
	default:
		return string(c.Type())
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
