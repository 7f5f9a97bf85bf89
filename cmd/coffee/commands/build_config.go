package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vitwit/coffee/utils"
)

func buildConfigCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "build-config",
		Short: "Write the static configuration from COFFEE_* environment variables",
		Long: `build-config starts from the built-in defaults, applies COFFEE_* environment
variables (COFFEE_INFURA_KEY builds the mainnet RPC URL unless COFFEE_RPC_URL is set)
and writes the validated result as YAML. Keys and passphrases are never written.`,
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := utils.LoadConfig("", os.LookupEnv)
			if err != nil {
				return err
			}
			data, err := utils.RenderConfig(built)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "coffee.yaml", "output file, - for stdout")
	return cmd
}
