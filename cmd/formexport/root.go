package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/formexport/internal/config"
	"github.com/JonMunkholm/formexport/internal/logging"
)

// app carries what every subcommand needs once the root command has run.
type app struct {
	envFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:          "formexport",
		Short:        "Export form submissions as CSV or JSON",
		Long:         "formexport serves the submission export API and runs exports, migrations and reservation maintenance from the command line.",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Environment file to load (values override the environment)")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newExportCmd(a))
	cmd.AddCommand(newReservationsCmd(a))
	return cmd
}

// load reads the env file and configuration. Only serve logs to stdout;
// the other commands keep stdout for their output.
func (a *app) load(cmd *cobra.Command) error {
	envErr := godotenv.Overload(a.envFile)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if cmd.Name() == "serve" {
		logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	} else {
		slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))
	}

	if envErr != nil {
		slog.Debug("no env file loaded, using environment variables", "file", a.envFile)
	} else {
		slog.Debug("loaded env file", "file", a.envFile)
	}
	return nil
}
