package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewValidateCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := env.loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("%s is valid: %d provider(s), %d tenant(s)\n",
				env.ConfigPath, len(def.Providers), len(def.Tenants))
			return nil
		},
	}
}
