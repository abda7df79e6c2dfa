package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	apitls "github.com/loykin/frpmon/internal/tls"
	"github.com/loykin/frpmon/pkg/client"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	// APICA is the PEM file trusted for an https API URL.
	APICA string
}

func (g *GlobalFlags) client() (*client.Client, error) {
	cfg := client.Config{BaseURL: g.APIUrl, Timeout: g.APITimeout}
	if g.APICA != "" {
		t, err := apitls.ClientConfig(g.APICA)
		if err != nil {
			return nil, err
		}
		cfg.TLS = t
	}
	return client.New(cfg), nil
}

func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	root := createRootCommand(global)
	root.AddCommand(
		createServeCommand(global),
		createWatchdogCommand(),
		createStartCommand(global),
		createStopCommand(global),
		createStatusCommand(global),
		createEventsCommand(global),
		createProxiesCommand(global),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "frpmon",
		Short: "Supervisor and traffic relay for an frp client",
		Long: `frpmon runs one frp client process, guarantees it does not outlive a
crash of the supervisor, and relays local TCP ports while measuring traffic.

Examples:
  frpmon serve --config frpmon.toml      # run the daemon
  frpmon start -- -c /opt/frp/frpc.toml  # start frpc via the daemon
  frpmon status
  frpmon events --kinds log.stdout,process.closed
  frpmon proxies apply --file proxies.toml`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (TOML, YAML or JSON)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", client.DefaultBaseURL, "daemon API base URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "API request timeout")
	root.PersistentFlags().StringVar(&flags.APICA, "api-ca", "", "CA certificate for an https API URL")
	return root
}
