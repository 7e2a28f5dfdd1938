package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var reportOutput string

var reportCmd = &cobra.Command{
	Use:   "report <check-id>",
	Short: "Print the rendered report for an archived check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getArchive()
		if err != nil {
			return err
		}
		c, rep, err := s.GetCheck(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if rep == "" {
			return fmt.Errorf("check %s has no report (state %s)", c.ID, c.State)
		}
		if reportOutput != "" {
			if err := os.WriteFile(reportOutput, []byte(rep), 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			ui.Success("Report written to %s", reportOutput)
			return nil
		}
		fmt.Fprintln(ui.Out, rep)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Write the report to a file instead of stdout")
	rootCmd.AddCommand(reportCmd)
}
