package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Listen != "127.0.0.1:7400" || c.Server.BasePath != "/api" {
		t.Fatalf("unexpected server defaults: %+v", c.Server)
	}
	if c.Runner.PollInterval != 200*time.Millisecond {
		t.Fatalf("poll interval = %v", c.Runner.PollInterval)
	}
	if !c.Watchdog.Enabled || c.Watchdog.GroupGrace != 300*time.Millisecond || c.Watchdog.PIDGrace != 200*time.Millisecond {
		t.Fatalf("unexpected watchdog defaults: %+v", c.Watchdog)
	}
	if c.Relay.SampleInterval != time.Second {
		t.Fatalf("sample interval = %v", c.Relay.SampleInterval)
	}
	if c.Log.Level != "info" || c.Log.Format != "text" {
		t.Fatalf("unexpected log defaults: %+v", c.Log)
	}
	if c.LockFile == "" {
		t.Fatalf("expected a default lock file")
	}
}

func TestLoadFullTOML(t *testing.T) {
	p := writeFile(t, "frpmon.toml", `
lock_file = "/tmp/frpmon-test.lock"

[runner]
exe = "/opt/frp/frpc"
args = ["-c", "/opt/frp/frpc.toml"]
work_dir = "/opt/frp"
env = ["A=1"]
poll_interval = "100ms"
autostart = true
group_kill = true
[runner.log]
dir = "/var/log/frpmon"

[watchdog]
enabled = false
group_grace = "1s"
pid_grace = "500ms"
log_file = "/var/log/frpmon/watchdog.log"

[relay]
sample_interval = "250ms"
[[relay.proxies]]
id = "web"
listen = "127.0.0.1:18080"
destination = "127.0.0.1:8080"
[[relay.proxies]]
id = "ssh"
listen = "127.0.0.1:12222"
destination = "127.0.0.1:22"

[server]
listen = "127.0.0.1:9999"
base_path = "/v1"

[metrics]
listen = "127.0.0.1:9400"
[metrics.resources]
enabled = true
interval = "2s"

[history]
dsn = "sqlite://runs.db"

[log]
level = "debug"
format = "json"
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Runner.Exe != "/opt/frp/frpc" || len(c.Runner.Args) != 2 || c.Runner.WorkDir != "/opt/frp" || !c.Runner.Autostart || !c.Runner.GroupKill {
		t.Fatalf("unexpected runner: %+v", c.Runner)
	}
	if c.Runner.PollInterval != 100*time.Millisecond || c.Runner.Log.Dir != "/var/log/frpmon" {
		t.Fatalf("unexpected runner timing/log: %+v", c.Runner)
	}
	if c.Watchdog.Enabled || c.Watchdog.GroupGrace != time.Second || c.Watchdog.PIDGrace != 500*time.Millisecond {
		t.Fatalf("unexpected watchdog: %+v", c.Watchdog)
	}
	if c.Relay.SampleInterval != 250*time.Millisecond || len(c.Relay.Proxies) != 2 {
		t.Fatalf("unexpected relay: %+v", c.Relay)
	}
	if p := c.Relay.Proxies[1]; p.ID != "ssh" || p.Listen != "127.0.0.1:12222" || p.Destination != "127.0.0.1:22" {
		t.Fatalf("unexpected proxy: %+v", p)
	}
	if c.Server.Listen != "127.0.0.1:9999" || c.Server.BasePath != "/v1" {
		t.Fatalf("unexpected server: %+v", c.Server)
	}
	if c.Metrics.Listen != "127.0.0.1:9400" || !c.Metrics.Resources.Enabled || c.Metrics.Resources.Interval != 2*time.Second || c.Metrics.Resources.MaxHistory != 100 {
		t.Fatalf("unexpected metrics: %+v", c.Metrics)
	}
	if c.History.DSN != "sqlite://runs.db" || c.Log.Level != "debug" || c.Log.Format != "json" || c.LockFile != "/tmp/frpmon-test.lock" {
		t.Fatalf("unexpected misc: %+v", c)
	}

	opts := c.SupervisorOptions(nil, nil)
	if opts.Watchdog.Enabled || opts.Watchdog.Link.GroupGrace != time.Second || opts.PollInterval != 100*time.Millisecond {
		t.Fatalf("unexpected supervisor options: %+v", opts)
	}
}

func TestLoadYAMLByExtension(t *testing.T) {
	p := writeFile(t, "frpmon.yaml", `
runner:
  exe: /bin/true
relay:
  proxies:
    - id: a
      listen: 127.0.0.1:0
      destination: 127.0.0.1:1
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Runner.Exe != "/bin/true" || len(c.Relay.Proxies) != 1 {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	p := writeFile(t, "frpmon.toml", `
[server]
listen = "127.0.0.1:1111"
`)
	t.Setenv("FRPMON_SERVER_LISTEN", "127.0.0.1:2222")
	t.Setenv("FRPMON_RUNNER_POLL_INTERVAL", "50ms")
	t.Setenv("FRPMON_WATCHDOG_ENABLED", "false")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Listen != "127.0.0.1:2222" {
		t.Fatalf("env should override file, got %s", c.Server.Listen)
	}
	if c.Runner.PollInterval != 50*time.Millisecond || c.Watchdog.Enabled {
		t.Fatalf("env overrides not applied: %+v %+v", c.Runner, c.Watchdog)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"autostart without exe": `
[runner]
autostart = true
`,
		"duplicate proxy ids": `
[[relay.proxies]]
id = "a"
listen = "127.0.0.1:1"
destination = "127.0.0.1:2"
[[relay.proxies]]
id = "a"
listen = "127.0.0.1:3"
destination = "127.0.0.1:4"
`,
		"proxy without destination": `
[[relay.proxies]]
id = "a"
listen = "127.0.0.1:1"
`,
		"zero poll interval": `
[runner]
poll_interval = "0s"
`,
		"negative sample interval": `
[relay]
sample_interval = "-1s"
`,
		"relative base path": `
[server]
base_path = "api"
`,
		"empty api listen": `
[server]
listen = ""
`,
		"tls without key material": `
[server.tls]
enabled = true
`,
		"unknown log level": `
[log]
level = "chatty"
`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, "c.toml", data)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestRunnerSpec(t *testing.T) {
	envFile := writeFile(t, ".env", "FROM_FILE=1\nA=file\n")
	c := &Config{Runner: RunnerConfig{
		Exe:       "/opt/frp/frpc",
		Args:      []string{"-c", "x.toml"},
		Env:       []string{"A=inline"},
		EnvFiles:  []string{envFile},
		GroupKill: true,
	}}
	spec, err := c.RunnerSpec()
	if err != nil {
		t.Fatalf("runner spec: %v", err)
	}
	if spec.Exe != "/opt/frp/frpc" || len(spec.Args) != 2 || !spec.GroupKill {
		t.Fatalf("unexpected spec: %+v", spec)
	}
	want := []string{"FROM_FILE=1", "A=file", "A=inline"}
	if len(spec.Env) != len(want) {
		t.Fatalf("env = %v, want %v", spec.Env, want)
	}
	for i := range want {
		if spec.Env[i] != want[i] {
			t.Fatalf("env = %v, want %v", spec.Env, want)
		}
	}

	c.Runner.EnvFiles = []string{"/definitely/not/exist.env"}
	if _, err := c.RunnerSpec(); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
