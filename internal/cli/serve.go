package cli

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breezy-team/breezy-sub027/internal/medium"
	"github.com/breezy-team/breezy-sub027/internal/smart"
	"github.com/breezy-team/breezy-sub027/internal/vcs"
	"github.com/breezy-team/breezy-sub027/internal/vcs/sqlitestore"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
	Config     Config

	// TokenGenerator allows overriding the lock token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	TokenGenerator vcs.TokenGenerator
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve repositories over the smart protocol",
		Long: `Serve the repositories below a directory over the smart protocol.

Clients address repositories by path under the served directory. The server
accepts connections on a TCP address, or serves a single connection over
stdin/stdout with --stdio (for tunnelling over ssh).

Example:
  bzrsmartd serve --path /srv/repos --listen :4155
  bzrsmartd serve --path /srv/repos --stdio --readonly
  bzrsmartd serve --config /etc/bzrsmartd.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Config.Path, "path", "", "directory to serve")
	cmd.Flags().StringVar(&opts.Config.Listen, "listen", "", "TCP address to listen on (e.g. :4155)")
	cmd.Flags().BoolVar(&opts.Config.Stdio, "stdio", false, "serve one connection over stdin/stdout")
	cmd.Flags().BoolVar(&opts.Config.Readonly, "readonly", false, "reject mutating verbs")
	cmd.Flags().BoolVar(&opts.Config.DisableVFS, "disable-vfs", false, "turn off raw file-access verbs")
	cmd.Flags().StringVar(&opts.Config.RootClientPath, "root", "/", "virtual root clients see")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg := opts.Config
	if opts.ConfigPath != "" {
		fileCfg, err := LoadConfig(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		merged := *fileCfg
		// Flags override the config file.
		if cfg.Path != "" {
			merged.Path = cfg.Path
		}
		if cfg.Listen != "" {
			merged.Listen = cfg.Listen
		}
		merged.Stdio = merged.Stdio || cfg.Stdio
		merged.Readonly = merged.Readonly || cfg.Readonly
		merged.DisableVFS = merged.DisableVFS || cfg.DisableVFS
		if cfg.RootClientPath != "/" && cfg.RootClientPath != "" {
			merged.RootClientPath = cfg.RootClientPath
		}
		cfg = merged
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid serve configuration", err)
	}

	smart.SetVFSEnabled(!cfg.DisableVFS)

	transport, err := vcs.NewLocalTransport(cfg.Path, cfg.Readonly)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open served directory", err)
	}

	gen := opts.TokenGenerator
	if gen == nil {
		gen = vcs.UUIDv7Generator{}
	}
	backend, err := sqlitestore.NewBackend(cfg.Path, transport, gen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open backend", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			logger.Error("error closing backend", "error", closeErr)
		}
	}()

	dispatcher := smart.NewDispatcher(smart.NewRegistry(), backend, transport, cfg.RootClientPath, logger)

	// Setup signal handling for graceful shutdown.
	// Use command's context if available (for testing), otherwise create one.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Stdio {
		logger.Info("serving on stdio", "path", cfg.Path, "readonly", cfg.Readonly)
		conn := stdioConn{Reader: cmd.InOrStdin(), Writer: cmd.OutOrStdout()}
		if err := medium.Serve(conn, dispatcher, logger); err != nil {
			return WrapExitError(ExitFailure, "serve error", err)
		}
		logger.Info("connection closed")
		return nil
	}

	return serveTCP(ctx, cfg, dispatcher, logger)
}

// stdioConn joins the process streams into the single duplex connection the
// medium expects.
type stdioConn struct {
	io.Reader
	io.Writer
}

func serveTCP(ctx context.Context, cfg Config, dispatcher *smart.Dispatcher, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	logger.Info("listening", "addr", listener.Addr().String(), "path", cfg.Path, "readonly", cfg.Readonly)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return WrapExitError(ExitFailure, "accept error", err)
		}
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			defer conn.Close()
			connLogger := logger.With("remote", conn.RemoteAddr().String())
			connLogger.Debug("connection accepted")
			if serveErr := medium.Serve(conn, dispatcher, connLogger); serveErr != nil {
				connLogger.Error("connection error", "error", serveErr)
			}
			connLogger.Debug("connection closed")
		}(conn)
	}

	wg.Wait()
	logger.Info("server stopped gracefully")
	return nil
}
