package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/listing-lab/listing-lab/internal/config"
	"github.com/listing-lab/listing-lab/internal/report"
	"github.com/listing-lab/listing-lab/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate an LLM report over recently finalized experiments",
	Long: `Summarize every experiment kept or reverted within the window, scored
against its own end date, and extract the strategies worth repeating.

The report is persisted and also served at GET /reports.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

var reportDays int

func init() {
	reportCmd.Flags().IntVarP(&reportDays, "days", "d", 30, "window length in days")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireOpenAI(); err != nil {
		return err
	}
	summarizer, err := report.NewOpenAISummarizer(cfg.OpenAIKey, cfg.OpenAIModel)
	if err != nil {
		return err
	}

	return withStore(func(s *store.SQLiteStore) error {
		rep, err := report.New(s, summarizer).Generate(context.Background(), reportDays)
		if err != nil {
			return err
		}

		fmt.Printf("REPORT %s (%s to %s, %d experiments)\n",
			rep.ID, rep.Window.Start, rep.Window.End, len(rep.Experiments))
		fmt.Println(strings.Repeat("─", 44))
		fmt.Println(rep.Markdown)
		if len(rep.Insights) > 0 {
			fmt.Println()
			fmt.Println("INSIGHTS")
			for _, insight := range rep.Insights {
				fmt.Printf("  • %s\n", insight.Summary)
				if insight.Reasoning != "" {
					fmt.Printf("    %s\n", insight.Reasoning)
				}
			}
		}
		return nil
	})
}
