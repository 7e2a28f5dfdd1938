package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/speccheck/speccheck/internal/output"
	"github.com/speccheck/speccheck/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [check-id]",
	Short: "Show backend health or one check's status",
	Long: `Without arguments, probes the reasoning backend and summarizes the
archived checks. With a check id, shows that check's details.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return statusCheckRun(cmd, args[0])
		}
		return statusOverviewRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusOverviewRun(cmd *cobra.Command) error {
	backend, err := buildBackend()
	if err != nil {
		return err
	}
	h := backend.Health(cmd.Context())
	if h.Status == "connected" {
		ui.Success("Backend connected (%d models loaded)", h.ModelsLoaded)
		if h.PrimaryModel != "" && !h.PrimaryLoaded {
			ui.Warning("Configured model %s is not loaded", h.PrimaryModel)
		}
	} else {
		ui.Error("Backend %s: %s", h.Status, h.Error)
	}

	s, err := getArchive()
	if err != nil {
		return err
	}
	checks, err := s.ListChecks(cmd.Context(), store.ListFilter{})
	if err != nil {
		return err
	}
	counts := map[string]int{}
	for _, c := range checks {
		counts[string(c.State)]++
	}
	ui.Info("Archived checks: %d completed, %d failed", counts["completed"], counts["failed"])
	return nil
}

func statusCheckRun(cmd *cobra.Command, id string) error {
	s, err := getArchive()
	if err != nil {
		return err
	}
	c, _, err := s.GetCheck(cmd.Context(), id)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"FIELD", "VALUE"})
	table.Append([]string{"Check", c.ID})
	table.Append([]string{"Repository", c.Repository})
	table.Append([]string{"Branch", c.Request.Branch})
	table.Append([]string{"State", output.StateColor(string(c.State))})
	table.Append([]string{"Accepted", c.AcceptedAt.Format(time.RFC3339)})
	if c.CompletedAt != nil {
		table.Append([]string{"Completed", c.CompletedAt.Format(time.RFC3339)})
	}
	if c.ErrorCode != "" {
		table.Append([]string{"Error", c.ErrorCode + ": " + c.Error})
	}
	sum := c.Summarize()
	table.Append([]string{"Issues", fmt.Sprintf("%s %d  %s %d  %s %d  %s %d",
		output.SeverityColor("critical"), sum.Critical,
		output.SeverityColor("high"), sum.High,
		output.SeverityColor("medium"), sum.Medium,
		output.SeverityColor("low"), sum.Low)})
	table.Render()

	for _, w := range c.Warnings {
		ui.Warning("%s", w)
	}
	return nil
}
