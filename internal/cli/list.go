package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/listing-lab/listing-lab/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list [board]",
	Short: "List experiments by board (untested, testing, finished, tested)",
	Long: `List experiments grouped by lifecycle board.

Boards:
  untested   selected options waiting for acceptance
  testing    running experiments
  finished   running experiments past their planned end date
  tested     finalized experiments (kept or reverted)

Without an argument, all boards are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	board := ""
	if len(args) == 1 {
		board = args[0]
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()
		experiments, err := s.ListExperiments(ctx,
			store.StateUntested, store.StateTesting, store.StateKept, store.StateReverted)
		if err != nil {
			return err
		}

		today := store.Today()
		boards := map[string][]*store.Experiment{}
		for _, exp := range experiments {
			switch exp.EffectiveState(today) {
			case store.StateUntested:
				boards["untested"] = append(boards["untested"], exp)
			case store.StateTesting:
				boards["testing"] = append(boards["testing"], exp)
			case store.StateFinished:
				boards["finished"] = append(boards["finished"], exp)
			case store.StateKept, store.StateReverted:
				boards["tested"] = append(boards["tested"], exp)
			}
		}

		order := []string{"untested", "testing", "finished", "tested"}
		if board != "" {
			if _, ok := boards[board]; !ok {
				found := false
				for _, name := range order {
					if name == board {
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("unknown board: %s (want untested, testing, finished, or tested)", board)
				}
			}
			order = []string{board}
		}

		for _, name := range order {
			printBoard(name, boards[name], today)
		}
		return nil
	})
}

func printBoard(name string, experiments []*store.Experiment, today string) {
	fmt.Printf("%s (%d)\n", strings.ToUpper(name), len(experiments))
	fmt.Println(strings.Repeat("─", 72))
	if len(experiments) == 0 {
		fmt.Println("  (empty)")
		fmt.Println()
		return
	}
	for _, exp := range experiments {
		dates := ""
		switch exp.EffectiveState(today) {
		case store.StateTesting, store.StateFinished:
			dates = fmt.Sprintf("  %s → %s", exp.StartDate, exp.PlannedEndDate)
		case store.StateKept, store.StateReverted:
			dates = fmt.Sprintf("  %s (%s)", exp.EndDate, exp.FinalState)
		}
		fmt.Printf("  %-10d %-36s %-11s%s\n", exp.ListingID, exp.ID, exp.Change.Type(), dates)
	}
	fmt.Println()
}
