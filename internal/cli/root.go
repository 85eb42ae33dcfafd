package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigFile = "config/config.yaml"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	port       string
}

// Execute builds the command tree and runs the subcommand named in os.Args.
func Execute() error {
	root := newRootCmd()
	return root.ExecuteContext(context.Background())
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "classroom-qa",
		Short: "Classroom question board with rooms, reactions and XP",
		Long: "classroom-qa serves a live question board for a classroom. " +
			"Data lives in an embedded JSON document or in Postgres, chosen by the config file.",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", envOr("CONFIG_PATH", defaultConfigFile),
		"YAML config file (env CONFIG_PATH)")
	pf.StringVar(&flags.port, "port", os.Getenv("PORT"),
		"listen port, takes precedence over server.port (env PORT)")

	root.AddCommand(
		NewStartCmd(&flags.configPath, &flags.port),
		NewMigrateCmd(&flags.configPath),
		NewWatchCmd(&flags.configPath),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
