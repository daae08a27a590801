package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// AppName is the binary name
const AppName = "beacon"

// NewRootCommand builds the beacon command tree
func NewRootCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Beacon - visitor and interaction analytics",
		Long:          "Beacon captures page visits and interactions, tracks who is online and serves dashboard summaries.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// flags override the environment that LoadConfig reads
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				if err := os.Setenv("BEACON_CONFIG_FILE", path); err != nil {
					return err
				}
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				if err := os.Setenv("BEACON_LOG_LEVEL", level); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")

	cmd.PersistentFlags().String("config", "", "path to a YAML config file (overrides BEACON_CONFIG_FILE)")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")

	cmd.AddCommand(
		newServeCommand(version),
		newConsumeCommand(),
		newRollupCommand(),
		newArchiveCommand(),
		newSummaryCommand(),
	)

	return cmd
}
