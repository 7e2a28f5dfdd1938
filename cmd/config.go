package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration",
	Long: `Print the effective configuration as YAML, merging defaults, the
config file, and SPECCHECK_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := viper.AllSettings()

		// Never print credentials.
		if git, ok := settings["git"].(map[string]any); ok && git["token"] != "" {
			git["token"] = "***"
		}
		if a, ok := settings["anthropic"].(map[string]any); ok && a["api_key"] != "" {
			a["api_key"] = "***"
		}
		if srv, ok := settings["server"].(map[string]any); ok && srv["api_key"] != "" {
			srv["api_key"] = "***"
		}

		out, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Fprint(ui.Out, string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
