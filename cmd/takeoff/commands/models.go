package commands

import (
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the detection models offered by the service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		models, err := app.apiClient().ListModels(cmd.Context())
		if err != nil {
			return err
		}
		app.console.Models(models)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the service is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := app.apiClient()
		status, err := client.HealthCheck(cmd.Context())
		if err != nil {
			return err
		}
		app.console.Success("%s is %s", client.BaseURL(), status.Status)
		if status.Version != "" {
			app.console.KeyValue("Version", status.Version)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd, healthCmd)
}
