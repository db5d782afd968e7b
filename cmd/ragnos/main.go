package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/plumwheel/ragnos-vault/cmd/ragnos/commands"
	"github.com/plumwheel/ragnos-vault/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		debug      bool
	)

	env := &commands.Env{}

	rootCmd := &cobra.Command{
		Use:   "ragnos",
		Short: "Vendor-neutral secrets platform",
		Long: `ragnos fronts cloud secret, key and queue services behind one
capability-based contract, with per-tenant routing and envelope encryption.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			env.ConfigPath = configFile
			env.Logger = logging.New(debug)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "ragnos.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewValidateCommand(env),
		commands.NewProvidersCommand(env),
		commands.NewDoctorCommand(env),
	)

	return rootCmd.Execute()
}
