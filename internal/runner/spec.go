package runner

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/loykin/frpmon/internal/logger"
)

// Spec describes the child to launch.
type Spec struct {
	Exe     string   `json:"exe" mapstructure:"exe"`
	Args    []string `json:"args" mapstructure:"args"`
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	// Env entries ("K=V") are layered over the daemon's environment; values may
	// reference ${VAR}.
	Env []string `json:"env" mapstructure:"env"`
	// GroupKill reports the child to the watchdog by process group instead of
	// by pid. Ignored where process groups do not exist.
	GroupKill bool `json:"group_kill" mapstructure:"group_kill"`
	// Log optionally tees child output into rotating files.
	Log logger.FileConfig `json:"log" mapstructure:"log"`
}

// Validate checks the spec is launchable without touching the filesystem.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Exe) == "" {
		return errors.New("runner: exe is required")
	}
	if s.WorkDir != "" && !filepath.IsAbs(s.WorkDir) {
		return errors.New("runner: work_dir must be absolute")
	}
	for _, kv := range s.Env {
		if i := strings.IndexByte(kv, '='); i <= 0 {
			return errors.New("runner: env entries must be K=V, got " + kv)
		}
	}
	return nil
}

// Name is the executable's base name without extension, used for log files.
func (s Spec) Name() string {
	base := filepath.Base(s.Exe)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// command builds the exec.Cmd for s. Stdio is wired by the runner.
func (s Spec) command() *exec.Cmd {
	// #nosec G204 -- launching the configured executable is the point
	cmd := exec.Command(s.Exe, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), s.Env)
	}
	configureSysProcAttr(cmd)
	return cmd
}
