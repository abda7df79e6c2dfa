package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/frpmon/pkg/client"
)

func createStartCommand(global *GlobalFlags) *cobra.Command {
	flags := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start [-- args...]",
		Short: "Start the frp client through the daemon",
		Long: `Start the managed executable. Fields left empty use the daemon's configured
defaults; arguments after -- replace the configured arguments.

Examples:
  frpmon start
  frpmon start --exe /opt/frp/frpc -- -c /opt/frp/frpc.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.StartRequest{Exe: flags.Exe, WorkDir: flags.WorkDir, Env: flags.Env}
			if cmd.ArgsLenAtDash() >= 0 || len(args) > 0 {
				req.Args = append([]string{}, args...)
			}
			c, err := global.client()
			if err != nil {
				return err
			}
			return runStart(cmd.Context(), c, req, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.Exe, "exe", "", "executable path (default from daemon config)")
	cmd.Flags().StringVar(&flags.WorkDir, "work-dir", "", "absolute working directory")
	cmd.Flags().StringSliceVar(&flags.Env, "env", nil, "extra environment entries KEY=VALUE")
	return cmd
}

func createStopCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the frp client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			if err := c.Stop(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "stopped")
			return nil
		},
	}
}

func createStatusCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show process state, resources and proxy traffic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func createEventsCommand(global *GlobalFlags) *cobra.Command {
	flags := &EventsFlags{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow the daemon's event stream",
		Long: `Print events as "<kind> <data>" lines until interrupted.

Kinds: log.stdout, log.stderr, log.error, process.closed, traffic.sample`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			return runEvents(cmd.Context(), c, flags.Kinds, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVar(&flags.Kinds, "kinds", nil, "only these event kinds")
	return cmd
}

func createProxiesCommand(global *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "List or replace the relayed proxies",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active proxies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := global.client()
			if err != nil {
				return err
			}
			eps, err := c.Proxies(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), eps)
			return nil
		},
	})

	flags := &ProxiesApplyFlags{}
	apply := &cobra.Command{
		Use:   "apply",
		Short: "Replace the active proxies with those in a file",
		Long: `Read a "proxies" list from a TOML, YAML or JSON file and make it the active
set. An empty list stops relaying.

Example file (TOML):
  [[proxies]]
  id = "web"
  listen = "127.0.0.1:18080"
  destination = "127.0.0.1:8080"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eps, err := loadProxiesFile(flags.File)
			if err != nil {
				return err
			}
			c, err := global.client()
			if err != nil {
				return err
			}
			if err := c.ApplyProxies(cmd.Context(), eps); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %d proxies\n", len(eps))
			return nil
		},
	}
	apply.Flags().StringVar(&flags.File, "file", "", "proxies file (required)")
	if err := apply.MarkFlagRequired("file"); err != nil {
		panic(err)
	}
	cmd.AddCommand(apply)
	return cmd
}

func runStart(ctx context.Context, c *client.Client, req client.StartRequest, w io.Writer) error {
	pid, err := c.Start(ctx, req)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "started pid %d\n", pid)
	return nil
}

func runEvents(ctx context.Context, c *client.Client, kinds []string, w io.Writer) error {
	ch, err := c.Events(ctx, kinds...)
	if err != nil {
		return err
	}
	for e := range ch {
		_, _ = fmt.Fprintf(w, "%s %s\n", e.Kind, e.Data)
	}
	return nil
}

// loadProxiesFile reads the proxies key of any viper-supported file.
func loadProxiesFile(path string) ([]client.Endpoint, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var eps []client.Endpoint
	if err := v.UnmarshalKey("proxies", &eps); err != nil {
		return nil, fmt.Errorf("decode proxies: %w", err)
	}
	return eps, nil
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}
