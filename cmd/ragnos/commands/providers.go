package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/plumwheel/ragnos-vault/internal/config"
)

func NewProvidersCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List built-in provider types and configured instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Built-in Provider Types:")
			fmt.Println("========================")

			types := make([]string, 0)
			for name := range registrations() {
				types = append(types, name)
			}
			sort.Strings(types)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "TYPE\tDESCRIPTION\n")
			fmt.Fprintf(w, "----\t-----------\n")
			for _, name := range types {
				fmt.Fprintf(w, "%s\t%s\n", name, typeDescription(name))
			}
			_ = w.Flush()

			def, err := env.loadConfig()
			if err != nil {
				// Listing built-in types works without a config file.
				return nil
			}

			fmt.Println("\nConfigured Providers:")
			fmt.Println("=====================")
			if len(def.Providers) == 0 {
				fmt.Println("No providers configured")
				return nil
			}

			names := make([]string, 0, len(def.Providers))
			for name := range def.Providers {
				names = append(names, name)
			}
			sort.Strings(names)

			w2 := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w2, "NAME\tTYPE\tTENANTS\n")
			fmt.Fprintf(w2, "----\t----\t-------\n")
			for _, name := range names {
				fmt.Fprintf(w2, "%s\t%s\t%d\n", name, def.Providers[name].Type, tenantCount(def.Tenants, name))
			}
			return w2.Flush()
		},
	}
}

func tenantCount(tenants map[string]map[string]config.Mapping, name string) int {
	count := 0
	for _, mappings := range tenants {
		if _, ok := mappings[name]; ok {
			count++
		}
	}
	return count
}

func typeDescription(name string) string {
	descriptions := map[string]string{
		"memory": "In-process provider for development and tests",
		"redis":  "Redis-backed queue and metadata store",
		"aws":    "AWS Secrets Manager, KMS and SSM Parameter Store",
		"gcp":    "Google Cloud Secret Manager",
		"azure":  "Azure Key Vault secrets",
	}
	if d, ok := descriptions[name]; ok {
		return d
	}
	return "unknown"
}
