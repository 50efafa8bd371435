package commands

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	noColor bool

	app *env
)

var rootCmd = &cobra.Command{
	Use:   "takeoff",
	Short: "Takeoff client for construction plan PDFs",
	Long: `takeoff uploads construction plan PDFs to the takeoff service, runs a trade
detection model over a chosen page and shows the detected symbols with the
service's analysis. Run "takeoff wizard" for the guided three-step flow.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		app = e
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
