// Package main is the entry point for the jsondb server application.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ASHISH26940/jsondb/internal/config"
	"github.com/ASHISH26940/jsondb/internal/conflict"
	"github.com/ASHISH26940/jsondb/internal/logging"
	"github.com/ASHISH26940/jsondb/internal/metrics"
	"github.com/ASHISH26940/jsondb/internal/server"
	"github.com/ASHISH26940/jsondb/internal/store"
)

const defaultConfigFile = "config.toml"

type flags struct {
	configFile    string
	debug         bool
	randomPort    bool
	lastWriteWins bool
	dataDir       string
	port          int
	metricsAddr   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:          "jsondb",
		Short:        "JSON document key-value server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			logger, closer := logging.FromConfig(cfg)
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, logger, nil); err != nil {
				logger.Error().Err(err).Msg("server failed")
				return err
			}
			return nil
		},
	}

	f.bind(cmd)
	return cmd
}

func (f *flags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.configFile, "config", defaultConfigFile, "Path to config file")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&f.randomPort, "random-port", false, "Listen on a port chosen by the OS")
	fs.BoolVar(&f.lastWriteWins, "last-write-wins", false, "Resolve conflicts by timestamp instead of version")
	fs.StringVar(&f.dataDir, "data-dir", "", "Directory holding one subdirectory per key")
	fs.IntVar(&f.port, "port", 0, "HTTP port")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Address serving /metrics, empty to disable")
}

// loadConfig builds the effective configuration: defaults, then the config
// file, then flags the user set explicitly. A missing file is only an error
// when --config was given.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg := config.New()
	if err := cfg.Load(f.configFile); err != nil {
		if !os.IsNotExist(err) || cmd.Flags().Changed("config") {
			return nil, errors.Wrapf(err, "load config %s", f.configFile)
		}
	}

	fs := cmd.Flags()
	if fs.Changed("debug") {
		cfg.Debug = f.debug
	}
	if fs.Changed("random-port") {
		cfg.RandomPort = f.randomPort
	}
	if fs.Changed("last-write-wins") {
		cfg.Policy = string(conflict.VersionControl)
		if f.lastWriteWins {
			cfg.Policy = string(conflict.LastWriteWins)
		}
	}
	if fs.Changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if fs.Changed("port") {
		cfg.Port = f.port
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// run serves until ctx is cancelled. ready, when non-nil, is called with the
// bound address once the listener is open.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, ready func(net.Addr)) error {
	bodyLimit, err := cfg.BodyLimit()
	if err != nil {
		return err
	}
	grace, err := cfg.GracePeriod()
	if err != nil {
		return err
	}

	st := store.New(cfg.DataDir,
		store.WithPolicy(cfg.ConflictPolicy()),
		store.WithLogger(logger),
	)
	if err := st.Init(); err != nil {
		return errors.Wrap(err, "init store")
	}

	if cfg.MetricsAddr != "" {
		stopMetrics, err := serveMetrics(cfg.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	l, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return errors.Wrapf(err, "listen on %s", cfg.ListenAddr())
	}
	logger.Info().
		Str("addr", l.Addr().String()).
		Str("policy", string(st.Policy())).
		Str("data_dir", st.Root()).
		Msgf("jsondb listening on port %d", l.Addr().(*net.TCPAddr).Port)
	if ready != nil {
		ready(l.Addr())
	}

	srv := server.New(st,
		server.WithLogger(logger),
		server.WithMaxBodySize(bodyLimit),
	)
	return srv.Serve(ctx, l, grace)
}

// serveMetrics exposes the prometheus registry on its own listener.
func serveMetrics(addr string, logger zerolog.Logger) (func(), error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	hs := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := hs.Serve(l); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", l.Addr().String()).Msg("serving metrics")
	return func() { _ = hs.Close() }, nil
}
