package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lakshaymaurya-felt/monolingual/internal/request"
)

var openCmd = &cobra.Command{
	Use:   "open <path>",
	Short: "Process a single application or folder",
	Long: `Remove unneeded languages from one application, framework or folder, and
strip the architectures listed in the config. Configured roots are not
scanned.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err != nil {
			return fmt.Errorf("open %s: %w", args[0], err)
		}
		req := request.ForPath(cfg, args[0])
		f := cmd.Flags()
		if f.Changed("dry-run") {
			req.DryRun, _ = f.GetBool("dry-run")
		}
		if f.Changed("trash") {
			req.Trash, _ = f.GetBool("trash")
		}
		return runRequest(cmd, req, scrubTitle(req))
	},
}

func init() {
	openCmd.Flags().Bool("dry-run", false, "Report what would be removed without changing anything")
	openCmd.Flags().Bool("trash", false, "Move items to the Trash instead of deleting them")
}
