//go:build !windows

package main

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apitls "github.com/loykin/frpmon/internal/tls"
	"github.com/loykin/frpmon/pkg/client"
)

func serveConfig(t *testing.T, lockFile string) string {
	t.Helper()
	return writeFile(t, "frpmon.toml", fmt.Sprintf(`
lock_file = %q

[runner]
exe = "/bin/sh"
args = ["-c", "sleep 30"]

[watchdog]
enabled = false

[server]
listen = "127.0.0.1:0"

[log]
level = "error"
`, lockFile))
}

type serveResult struct {
	addr chan net.Addr
	err  chan error
}

func startServe(ctx context.Context, path string) serveResult {
	res := serveResult{addr: make(chan net.Addr, 1), err: make(chan error, 1)}
	go func() {
		res.err <- runServe(ctx, path, ServeFlags{}, func(a net.Addr) { res.addr <- a })
	}()
	return res
}

func TestServeEndToEnd(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "frpmon.lock")
	path := serveConfig(t, lockFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res := startServe(ctx, path)

	var addr net.Addr
	select {
	case addr = <-res.addr:
	case err := <-res.err:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not become ready")
	}

	c := client.New(client.Config{BaseURL: "http://" + addr.String() + "/api", Timeout: 5 * time.Second})
	pid, err := c.Start(ctx, client.StartRequest{})
	require.NoError(t, err)
	assert.Greater(t, pid, 0)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, pid, st.PID)

	cancel()
	select {
	case err := <-res.err:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not shut down")
	}
}

func TestServeRejectsSecondInstance(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "frpmon.lock")
	path := serveConfig(t, lockFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := startServe(ctx, path)
	select {
	case <-first.addr:
	case err := <-first.err:
		t.Fatalf("first serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("first serve did not become ready")
	}

	err := runServe(ctx, path, ServeFlags{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another frpmon instance")

	cancel()
	select {
	case err := <-first.err:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not shut down")
	}
}

func TestServeInvalidConfig(t *testing.T) {
	path := writeFile(t, "bad.toml", `
[server]
listen = ""
`)
	err := runServe(context.Background(), path, ServeFlags{}, nil)
	assert.Error(t, err)
}

func TestServeOverTLS(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, "frpmon.toml", fmt.Sprintf(`
lock_file = %q

[watchdog]
enabled = false

[server]
listen = "127.0.0.1:0"

[server.tls]
enabled = true
dir = %q
self_signed = true

[log]
level = "error"
`, filepath.Join(dir, "frpmon.lock"), filepath.Join(dir, "tls")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res := startServe(ctx, path)

	var addr net.Addr
	select {
	case addr = <-res.addr:
	case err := <-res.err:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not become ready")
	}

	tlsCfg, err := apitls.ClientConfig(filepath.Join(dir, "tls", "tls.crt"))
	require.NoError(t, err)
	c := client.New(client.Config{BaseURL: "https://" + addr.String() + "/api", Timeout: 5 * time.Second, TLS: tlsCfg})
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)

	cancel()
	select {
	case err := <-res.err:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not shut down")
	}
}
