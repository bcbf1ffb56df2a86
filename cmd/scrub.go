package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/lakshaymaurya-felt/monolingual/internal/progress"
	"github.com/lakshaymaurya-felt/monolingual/internal/request"
	"github.com/lakshaymaurya-felt/monolingual/internal/status"
	"github.com/lakshaymaurya-felt/monolingual/internal/transport"
	"github.com/lakshaymaurya-felt/monolingual/internal/ui"
)

var (
	socketPath string
	verbose    bool
)

var scrubCmd = &cobra.Command{
	Use:   "scrub",
	Short: "Remove languages and architectures",
	Long: `Scan the configured roots (or the given directories and files) and remove
localizations and architectures you do not need.

Languages in --keep are never removed. Without --remove every other
language is removed. Architectures are only stripped with --strip.`,
	Example: `  monolingual scrub --dry-run
  monolingual scrub --remove de,fr --trash
  monolingual scrub --strip --thin ppc,i386 --dir /Applications/Foo.app`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sel, err := selectionFromFlags(cmd)
		if err != nil {
			return err
		}
		req := request.Build(cfg, sel)
		return runRequest(cmd, req, scrubTitle(req))
	},
}

func init() {
	addSelectionFlags(scrubCmd)

	for _, c := range []*cobra.Command{scrubCmd, openCmd} {
		c.Flags().StringVar(&socketPath, "socket", "", "Helper socket (default from config)")
		c.Flags().BoolVarP(&verbose, "verbose", "v", false, "Also list skipped items")
	}
}

func addSelectionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSlice("remove", nil, "Languages to remove (default: all but the kept ones)")
	f.StringSlice("keep", nil, "Languages to keep")
	f.StringSlice("thin", nil, "Architectures to strip (e.g. ppc,i386)")
	f.Bool("strip", false, "Strip architectures from universal binaries")
	f.Bool("trash", false, "Move items to the Trash instead of deleting them")
	f.Bool("dry-run", false, "Report what would be removed without changing anything")
	f.StringArray("root", nil, "Scan this root instead of the configured ones (repeatable)")
	f.StringArray("dir", nil, "Also process this directory (repeatable)")
	f.StringArray("file", nil, "Process this file or folder as an explicit item (repeatable)")
}

// selectionFromFlags turns the flags the user actually set into overrides.
// Unset flags fall back to the config.
func selectionFromFlags(cmd *cobra.Command) (request.Selection, error) {
	f := cmd.Flags()
	var sel request.Selection

	lists := []struct {
		name string
		dst  *[]string
	}{
		{"remove", &sel.Remove},
		{"keep", &sel.Keep},
		{"thin", &sel.Thin},
		{"dir", &sel.Directories},
		{"file", &sel.Files},
	}
	for _, l := range lists {
		if !f.Changed(l.name) {
			continue
		}
		var v []string
		var err error
		if l.name == "dir" || l.name == "file" {
			v, err = f.GetStringArray(l.name)
		} else {
			v, err = f.GetStringSlice(l.name)
		}
		if err != nil {
			return sel, err
		}
		*l.dst = append([]string{}, v...)
	}

	flags := []struct {
		name string
		dst  **bool
	}{
		{"strip", &sel.Strip},
		{"trash", &sel.Trash},
		{"dry-run", &sel.DryRun},
	}
	for _, b := range flags {
		if !f.Changed(b.name) {
			continue
		}
		v, err := f.GetBool(b.name)
		if err != nil {
			return sel, err
		}
		*b.dst = &v
	}
	// Naming architectures implies stripping them.
	if sel.Thin != nil && sel.Strip == nil {
		strip := true
		sel.Strip = &strip
	}

	switch {
	case f.Changed("root"):
		paths, err := f.GetStringArray("root")
		if err != nil {
			return sel, err
		}
		sel.Roots = make([]request.Root, 0, len(paths))
		for _, p := range paths {
			sel.Roots = append(sel.Roots, request.Root{Path: p, Languages: true, Architectures: true})
		}
	case sel.Directories != nil || sel.Files != nil:
		// Explicit targets replace the configured roots.
		sel.Roots = []request.Root{}
	}
	return sel, nil
}

func scrubTitle(req *request.HelperRequest) string {
	switch {
	case req.DryRun:
		return "Checking what can be removed"
	case req.ThinSet() != nil:
		return "Removing languages and architectures"
	}
	return "Removing languages"
}

// runRequest sends req to the helper and shows its progress until the run
// ends. Per-item failures are reported but only fail the command at the end.
func runRequest(cmd *cobra.Command, req *request.HelperRequest, title string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	socket := socketPath
	if socket == "" {
		socket = cfg.SocketPath
	}
	client, err := transport.Dial(ctx, socket)
	if err != nil {
		return fmt.Errorf("%w (is the helper running? start it with: sudo monolingual helper serve)", err)
	}
	defer client.Close()
	logger := debugLogger("monolingual: ")
	logger.Printf("connected to %s; dryRun=%v trash=%v strip=%v thin=%v", socket, req.DryRun, req.Trash, req.DoStrip, req.Thin)

	var before []status.Volume
	if !req.DryRun {
		before = status.Snapshot(ctx, req.ScopePaths())
	}

	var sum progress.Summary
	if isTerminal(os.Stdout) {
		sum, err = ui.Run(ctx, title, func(ctx context.Context, onEvent func(progress.Event)) (progress.Summary, error) {
			return client.Run(ctx, req, onEvent)
		})
	} else {
		p := ui.NewPrinter(cmd.OutOrStdout(), verbose || debug)
		sum, err = client.Run(ctx, req, p.Event)
		if err == nil {
			p.Summary(sum)
		}
	}
	if err != nil {
		return err
	}
	logger.Printf("run %s finished in %s: %d items", sum.RunID, sum.Duration, sum.Total())
	if before != nil {
		for _, line := range status.Describe(before, status.Snapshot(cmd.Context(), req.ScopePaths())) {
			fmt.Fprintln(cmd.OutOrStdout(), "  "+line)
		}
	}
	if sum.Errored > 0 {
		return fmt.Errorf("%d items could not be processed", sum.Errored)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
