package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/gin-gonic/gin"
)

// getPlatformAbsPath returns an absolute path valid on the current OS.
func getPlatformAbsPath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join("C:\\", "frp", "work")
	}
	return filepath.Join(string(filepath.Separator), "opt", "frp")
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":         "",
		"/":        "",
		"api":      "/api",
		"/api/":    "/api",
		" /v1/x/ ": "/v1/x",
		"//x//":    "/x",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", in, got, want)
		}
	}
}

func TestValidProxyID(t *testing.T) {
	for _, id := range []string{"web", "ssh-22", "a.b_c", "A1"} {
		if !validProxyID(id) {
			t.Fatalf("expected valid id %q", id)
		}
	}
	for _, id := range []string{"", ".", "..", "a..b", ".hidden", "a/b", `a\b`, "web*", "프록시"} {
		if validProxyID(id) {
			t.Fatalf("expected invalid id %q", id)
		}
	}
}

func TestCheckWorkDir(t *testing.T) {
	if err := checkWorkDir(""); err != nil {
		t.Fatalf("empty dir: %v", err)
	}
	abs := getPlatformAbsPath()
	if err := checkWorkDir(abs); err != nil {
		t.Fatalf("clean absolute dir %s: %v", abs, err)
	}
	if err := checkWorkDir(abs + string(filepath.Separator)); err != nil {
		t.Fatalf("trailing separator: %v", err)
	}
	if err := checkWorkDir("frp/work"); err == nil {
		t.Fatal("relative dir accepted")
	}
	sep := string(filepath.Separator)
	if err := checkWorkDir(abs + sep + ".." + sep + "etc"); err == nil {
		t.Fatal("traversal accepted")
	}
}

func TestCheckEnv(t *testing.T) {
	if err := checkEnv([]string{"A=1", "_B=", "FRP_TOKEN=a=b"}); err != nil {
		t.Fatalf("valid env: %v", err)
	}
	for _, bad := range []string{"NOEQUALS", "=x", "1A=2", "A-B=1"} {
		if err := checkEnv([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestWriteError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeError(c, http.StatusConflict, "busy") })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
	if body := rec.Body.String(); body != "{\"error\":\"busy\"}\n" {
		t.Fatalf("body: %q", body)
	}
}
