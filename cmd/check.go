package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/speccheck/speccheck/internal/models"
	"github.com/speccheck/speccheck/internal/output"
)

var (
	checkBranch      string
	checkSpecFiles   []string
	checkTargets     []string
	checkDeep        bool
	checkSuggestions bool
	checkMinSeverity string
	checkOutput      string
)

var checkCmd = &cobra.Command{
	Use:   "check <repository-url>",
	Short: "Run a compliance check and wait for the result",
	Long: `Run one compliance check against a repository and block until it
finishes. Without --spec, every *.md file under the repository's spec/
directory is parsed for requirements.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := buildOrchestrator()
		if err != nil {
			return err
		}

		c, err := orch.Submit(models.CheckRequest{
			RepositoryURL: args[0],
			Branch:        checkBranch,
			SpecFiles:     checkSpecFiles,
			TargetPaths:   checkTargets,
			Options: models.CheckOptions{
				DeepAnalysis:       checkDeep,
				IncludeSuggestions: checkSuggestions,
				MinSeverity:        models.Severity(checkMinSeverity),
			},
		})
		if err != nil {
			return err
		}
		ui.Info("Check %s accepted for %s", c.ID, c.Repository)

		done, err := orch.Wait(cmd.Context(), c.ID, time.Second)
		if err != nil {
			return err
		}
		if done.State == models.CheckStateFailed {
			return fmt.Errorf("check failed (%s): %s", done.ErrorCode, done.Error)
		}

		for _, w := range done.Warnings {
			ui.Warning("%s", w)
		}
		printSummary(done)

		rep, err := orch.GetReport(cmd.Context(), done.ID)
		if err != nil {
			return err
		}
		if checkOutput != "" {
			if err := os.WriteFile(checkOutput, []byte(rep), 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			ui.Success("Report written to %s", checkOutput)
			return nil
		}
		fmt.Fprintln(ui.Out, rep)
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVarP(&checkBranch, "branch", "b", "main", "Branch to check")
	checkCmd.Flags().StringSliceVar(&checkSpecFiles, "spec", nil, "Spec file paths inside the repository (repeatable)")
	checkCmd.Flags().StringSliceVar(&checkTargets, "target", nil, "Restrict code analysis to these paths (repeatable)")
	checkCmd.Flags().BoolVar(&checkDeep, "deep", false, "Judge architecture-level requirements against the whole index")
	checkCmd.Flags().BoolVar(&checkSuggestions, "suggestions", true, "Include fix suggestions in the report")
	checkCmd.Flags().StringVar(&checkMinSeverity, "min-severity", "", "Drop issues below this severity (critical|high|medium|low)")
	checkCmd.Flags().StringVarP(&checkOutput, "output", "o", "", "Write the report to a file instead of stdout")
	rootCmd.AddCommand(checkCmd)
}

func printSummary(c models.Check) {
	s := c.Summarize()
	ui.Success("Check %s completed: %d issues", c.ID, s.TotalIssues)
	if s.TotalIssues == 0 {
		return
	}
	parts := []string{
		output.SeverityColor("critical") + fmt.Sprintf(" %d", s.Critical),
		output.SeverityColor("high") + fmt.Sprintf(" %d", s.High),
		output.SeverityColor("medium") + fmt.Sprintf(" %d", s.Medium),
		output.SeverityColor("low") + fmt.Sprintf(" %d", s.Low),
	}
	ui.Info("%s", strings.Join(parts, "  "))
}
