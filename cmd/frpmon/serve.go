package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/frpmon/internal/config"
	"github.com/loykin/frpmon/internal/history"
	"github.com/loykin/frpmon/internal/history/factory"
	"github.com/loykin/frpmon/internal/logger"
	"github.com/loykin/frpmon/internal/metrics"
	"github.com/loykin/frpmon/internal/server"
	"github.com/loykin/frpmon/internal/supervisor"
	apitls "github.com/loykin/frpmon/internal/tls"
)

const shutdownTimeout = 10 * time.Second

func createServeCommand(global *GlobalFlags) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the frpmon daemon",
		Long: `Run the daemon: spawn the watchdog, bind the configured proxies, optionally
start the frp client, and serve the HTTP API until SIGINT or SIGTERM.

Examples:
  frpmon serve --config frpmon.toml
  frpmon serve frpmon.toml --daemonize --pidfile /run/frpmon.pid --logfile /var/log/frpmon.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := global.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			if flags.Daemonize {
				return daemonize(flags.PidFile, flags.LogFile)
			}
			if flags.PidFile != "" {
				if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
					return fmt.Errorf("write pid file: %w", err)
				}
				defer func() { _ = removePidFile(flags.PidFile) }()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, path, *flags, nil)
		},
	}
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon output to file when daemonized")
	cmd.Flags().BoolVar(&flags.KeepChild, "keep-child", false, "leave the frp client running on exit")
	return cmd
}

// runServe runs the daemon until ctx is done. ready, when set, receives the
// bound API address.
func runServe(ctx context.Context, path string, flags ServeFlags, ready func(net.Addr)) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log, logCloser, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(log)

	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", cfg.LockFile, err)
	}
	if !locked {
		return fmt.Errorf("another frpmon instance holds %s", cfg.LockFile)
	}
	defer func() {
		if err := lock.Close(); err != nil {
			log.Debug("failed to release lock", "path", cfg.LockFile, "error", err)
		}
	}()

	var sinks []history.Sink
	if cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("failed to register metrics", "error", err)
	}

	defaults, err := cfg.RunnerSpec()
	if err != nil {
		_ = history.CloseAll(sinks)
		return err
	}
	sup, err := supervisor.New(cfg.SupervisorOptions(log, sinks))
	if err != nil {
		_ = history.CloseAll(sinks)
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sup.Close(cctx, supervisor.CloseOptions{KeepChild: flags.KeepChild}); err != nil {
			log.Warn("supervisor close", "error", err)
		}
	}()

	if len(cfg.Relay.Proxies) > 0 {
		if err := sup.ApplyProxies(cfg.Relay.Proxies); err != nil {
			return err
		}
	}
	if cfg.Runner.Autostart {
		pid, err := sup.Start(defaults)
		if err != nil {
			return fmt.Errorf("autostart: %w", err)
		}
		log.Info("autostarted", "pid", pid, "exe", defaults.Exe)
	}

	tlsCfg, err := apitls.ServerConfig(cfg.Server.TLS)
	if err != nil {
		return err
	}
	apiLn, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	if tlsCfg != nil {
		apiLn = tls.NewListener(apiLn, tlsCfg)
	}
	router := server.NewRouter(sup, cfg.Server.BasePath, defaults, log.With("component", "api"))
	api := server.NewServer(cfg.Server.Listen, router.Handler())
	servers := []*http.Server{api}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(api, apiLn) })
	log.Info("api listening", "addr", apiLn.Addr().String(), "base_path", cfg.Server.BasePath, "tls", tlsCfg != nil)

	if cfg.Metrics.Listen != "" {
		mln, err := net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			_ = api.Close()
			return fmt.Errorf("metrics listen: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		ms := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		servers = append(servers, ms)
		g.Go(func() error { return serveHTTP(ms, mln) })
		log.Info("metrics listening", "addr", mln.Addr().String())
	}
	if ready != nil {
		ready(apiLn.Addr())
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, s := range servers {
			if err := s.Shutdown(sctx); err != nil {
				// open event streams do not end on their own
				errs = append(errs, s.Close())
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func serveHTTP(s *http.Server, ln net.Listener) error {
	if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
