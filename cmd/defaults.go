package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lakshaymaurya-felt/monolingual/internal/config"
)

var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Show or reset the configuration",
	Long: `Print the effective configuration (file, env file and MONOLINGUAL_*
variables applied) as JSON. With --reset, write the built-in defaults to
the config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cfg
		if reset, _ := cmd.Flags().GetBool("reset"); reset {
			out = config.DefaultConfig()
			if err := config.SaveConfig(out); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			if path, err := config.ConfigPath(); err == nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", path)
			}
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	defaultsCmd.Flags().Bool("reset", false, "Write the built-in defaults to the config file")
}
