package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// proxyIDPattern bounds ids that end up in metric labels and logs.
var proxyIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

// envKeyPattern is a portable environment variable name.
var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// sanitizeBase normalizes a mount point to "" or "/x" without a trailing slash.
func sanitizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

func validProxyID(id string) bool { return proxyIDPattern.MatchString(id) }

// checkWorkDir accepts an empty dir or an absolute path that is already clean
// apart from trailing separators.
func checkWorkDir(p string) error {
	if p == "" {
		return nil
	}
	if !filepath.IsAbs(p) {
		return errors.New("work_dir must be absolute")
	}
	trimmed := strings.TrimRight(p, string(filepath.Separator))
	if trimmed == "" {
		trimmed = p
	}
	if c := filepath.Clean(p); c != p && c != trimmed {
		return errors.New("work_dir must not contain traversal or redundant separators")
	}
	return nil
}

// checkEnv requires KEY=VALUE entries with a portable key.
func checkEnv(env []string) error {
	for _, kv := range env {
		k, _, ok := strings.Cut(kv, "=")
		if !ok || !envKeyPattern.MatchString(k) {
			return fmt.Errorf("invalid env entry %q: want KEY=VALUE", kv)
		}
	}
	return nil
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func writeError(c *gin.Context, code int, msg string) {
	writeJSON(c, code, errorResp{Error: msg})
}
