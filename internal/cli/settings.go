package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/listing-lab/listing-lab/internal/store"
)

func init() {
	rootCmd.AddCommand(newSettingsCmd())
}

func newSettingsCmd() *cobra.Command {
	var runDays int
	var tolerance float64
	var model string

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or update experiment defaults",
		Long: `Show the persisted experiment defaults. Pass flags to update them:

  llab settings --run-days 21 --tolerance 0.1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()
				settings, err := s.GetSettings(ctx)
				if err != nil {
					return err
				}

				changed := false
				if cmd.Flags().Changed("run-days") {
					if runDays <= 0 {
						return fmt.Errorf("run-days must be positive")
					}
					settings.RunDurationDays = runDays
					changed = true
				}
				if cmd.Flags().Changed("tolerance") {
					if tolerance < 0 {
						return fmt.Errorf("tolerance must not be negative")
					}
					settings.Tolerance = tolerance
					changed = true
				}
				if cmd.Flags().Changed("model") {
					settings.GenerationModel = model
					changed = true
				}

				if changed {
					if err := s.SaveSettings(ctx, settings); err != nil {
						return err
					}
					fmt.Println("Settings updated.")
				}

				fmt.Printf("Run duration:  %d days\n", settings.RunDurationDays)
				fmt.Printf("Tolerance:     %.2f\n", settings.Tolerance)
				if settings.GenerationModel != "" {
					fmt.Printf("Model:         %s\n", settings.GenerationModel)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&runDays, "run-days", 0, "default experiment run duration in days")
	cmd.Flags().Float64Var(&tolerance, "tolerance", 0, "keep/revert recommendation threshold")
	cmd.Flags().StringVar(&model, "model", "", "generation model name")

	return cmd
}
