package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lakshaymaurya-felt/monolingual/internal/progress"
	"github.com/lakshaymaurya-felt/monolingual/internal/remove"
	"github.com/lakshaymaurya-felt/monolingual/internal/request"
	"github.com/lakshaymaurya-felt/monolingual/internal/scrub"
	"github.com/lakshaymaurya-felt/monolingual/internal/transport"
	"github.com/lakshaymaurya-felt/monolingual/internal/ui"
)

const helperLogPrefix = "monolingual-helper: "

var helperCmd = &cobra.Command{
	Use:   "helper",
	Short: "Run the privileged helper",
	Long: `The helper performs every filesystem change. It normally runs as root,
started by launchd, and serves requests from the monolingual command.`,
}

var helperServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve requests on the helper socket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.New(os.Stderr, helperLogPrefix, log.LstdFlags)
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		socket, _ := cmd.Flags().GetString("socket")
		if socket == "" {
			socket = cfg.SocketPath
		}
		idle, _ := cmd.Flags().GetDuration("idle-timeout")

		ln, err := transport.Listen(socket)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", socket, err)
		}
		defer os.Remove(socket)

		srv := &transport.Server{
			Engine:      newEngine(cmd, logger),
			Logger:      logger,
			IdleTimeout: idle,
		}
		logger.Printf("listening on %s (pid %d, euid %d)", socket, os.Getpid(), os.Geteuid())
		if err := srv.Serve(ctx, ln); err != nil {
			return err
		}
		logger.Printf("stopped")
		return nil
	},
}

var helperRunCmd = &cobra.Command{
	Use:   "run --request <file>",
	Short: "Run one request from a JSON file and exit",
	Long: `Execute a single request without a socket. The file holds the request in
its JSON form ("-" reads stdin). Events are printed as they happen.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.New(os.Stderr, helperLogPrefix, log.LstdFlags)
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		path, _ := cmd.Flags().GetString("request")
		data, err := readRequestFile(cmd, path)
		if err != nil {
			return err
		}
		req, err := request.UnmarshalJSON(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		p := ui.NewPrinter(cmd.OutOrStdout(), true)
		sink := progress.SinkFunc(func(e progress.Event) error {
			p.Event(e)
			return nil
		})
		sum, err := newEngine(cmd, logger).Run(ctx, req, sink)
		if err != nil {
			return err
		}
		p.Summary(sum)
		if sum.Errored > 0 {
			return fmt.Errorf("%d items could not be processed", sum.Errored)
		}
		return nil
	},
}

func init() {
	helperServeCmd.Flags().String("socket", "", "Socket to listen on (default from config)")
	helperServeCmd.Flags().Duration("idle-timeout", 5*time.Minute, "Exit after this long without a connection (0 disables)")
	helperRunCmd.Flags().String("request", "", "Request file (JSON), or - for stdin")
	_ = helperRunCmd.MarkFlagRequired("request")

	for _, c := range []*cobra.Command{helperServeCmd, helperRunCmd} {
		c.Flags().Int("workers", 0, "Concurrent removals (default from config, then min(4, CPUs))")
		helperCmd.AddCommand(c)
	}
}

func newEngine(cmd *cobra.Command, logger *log.Logger) *scrub.Engine {
	workers, _ := cmd.Flags().GetInt("workers")
	if workers <= 0 {
		workers = cfg.Workers
	}
	return &scrub.Engine{
		Workers: workers,
		Logger:  logger,
		Debug:   debug,
		Trash:   remove.VolumeTrash{},
		Busy:    scrub.ProcessTable{},
	}
}

func readRequestFile(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	return data, nil
}
