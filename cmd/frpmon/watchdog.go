package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/loykin/frpmon/internal/logger"
	"github.com/loykin/frpmon/internal/watchdog"
)

func createWatchdogCommand() *cobra.Command {
	flags := &WatchdogFlags{}
	cmd := &cobra.Command{
		Use:    "watchdog",
		Short:  "Kill the supervised process when stdin closes (spawned by serve)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Ctrl-C aimed at the daemon must not reach the watchdog first.
			signal.Ignore(os.Interrupt)
			return runWatchdog(cmd.Context(), os.Stdin, *flags)
		},
	}
	cmd.Flags().DurationVar(&flags.GroupGrace, "group-grace", watchdog.DefaultGroupGrace, "grace between SIGTERM and SIGKILL for a process group")
	cmd.Flags().DurationVar(&flags.PIDGrace, "pid-grace", watchdog.DefaultPIDGrace, "grace between SIGTERM and SIGKILL for a single pid")
	cmd.Flags().StringVar(&flags.LogFile, "log-file", "", "rotating log file; logs are discarded when empty")
	return cmd
}

func runWatchdog(ctx context.Context, in io.Reader, f WatchdogFlags) error {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if f.LogFile != "" {
		l, closer, err := logger.New(logger.Config{File: logger.FileConfig{Path: f.LogFile}}, io.Discard)
		if err != nil {
			return err
		}
		defer func() { _ = closer.Close() }()
		log = l
	}
	opts := watchdog.Options{GroupGrace: f.GroupGrace, PIDGrace: f.PIDGrace, Logger: log}
	log.Info("watchdog running", "pid", os.Getpid(), "ppid", os.Getppid())
	out := watchdog.Run(ctx, in, watchdog.NewTerminator(opts), opts)
	log.Info("watchdog exiting", "target", out.Target.String(), "cleaned", out.Cleaned, "detached", out.Detached)
	return nil
}
