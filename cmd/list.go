package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/speccheck/speccheck/internal/models"
	"github.com/speccheck/speccheck/internal/output"
	"github.com/speccheck/speccheck/internal/store"
)

var (
	listStatus     string
	listRepository string
	listLimit      int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getArchive()
		if err != nil {
			return err
		}
		checks, err := s.ListChecks(cmd.Context(), store.ListFilter{
			State:      models.CheckState(listStatus),
			Repository: listRepository,
			Limit:      listLimit,
		})
		if err != nil {
			return err
		}
		if len(checks) == 0 {
			ui.Info("No archived checks. Run 'speccheck check <repository-url>' to create one.")
			return nil
		}

		table := ui.Table([]string{"CHECK", "REPOSITORY", "BRANCH", "STATE", "ISSUES", "COMPLETED"})
		for _, c := range checks {
			completed := ""
			if c.CompletedAt != nil {
				completed = c.CompletedAt.Format(time.RFC3339)
			}
			table.Append([]string{
				c.ID,
				c.Repository,
				c.Request.Branch,
				output.StateColor(string(c.State)),
				fmt.Sprintf("%d", c.Summarize().TotalIssues),
				completed,
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by state (completed|failed)")
	listCmd.Flags().StringVar(&listRepository, "repository", "", "Filter by repository substring")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum checks to show")
	rootCmd.AddCommand(listCmd)
}
