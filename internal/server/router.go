package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/frpmon/internal/event"
	"github.com/loykin/frpmon/internal/relay"
	"github.com/loykin/frpmon/internal/runner"
	"github.com/loykin/frpmon/internal/supervisor"
)

// Controller is the part of the supervisor the API drives.
type Controller interface {
	Start(spec runner.Spec) (int, error)
	Stop() error
	Status(ctx context.Context) supervisor.Status
	ApplyProxies(eps []relay.Endpoint) error
	Proxies() []relay.Endpoint
	Subscribe() *event.Subscription
}

// Router provides embeddable HTTP handlers for one supervisor.
// Endpoints:
//
//	POST {basePath}/start     body: StartRequest JSON, empty fields use defaults
//	POST {basePath}/stop
//	GET  {basePath}/status
//	GET  {basePath}/proxies
//	PUT  {basePath}/proxies   body: [{"id","listen","destination"}]
//	GET  {basePath}/events    server-sent events; ?kinds=a,b filters
type Router struct {
	ctl      Controller
	basePath string
	defaults runner.Spec
	log      *slog.Logger
}

// NewRouter constructs a Router. defaults fills in the launch fields a start
// request leaves empty.
func NewRouter(ctl Controller, basePath string, defaults runner.Spec, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{ctl: ctl, basePath: sanitizeBase(basePath), defaults: defaults, log: log}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/status", r.handleStatus)
	group.GET("/proxies", r.handleProxies)
	group.PUT("/proxies", r.handleApplyProxies)
	group.GET("/events", r.handleEvents)
	return g
}

// NewServer returns an http.Server for h; the caller runs and shuts it down.
// There is no write timeout because the event stream is long-lived.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// StartRequest is the body of POST /start.
type StartRequest struct {
	Exe     string   `json:"exe,omitempty"`
	Args    []string `json:"args,omitempty"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// StartResponse is the body of a successful POST /start.
type StartResponse struct {
	PID int `json:"pid"`
}

// merge applies the request over the defaults. A null or missing args list
// keeps the default arguments; an empty list clears them.
func (r *Router) merge(req StartRequest) runner.Spec {
	spec := r.defaults
	if req.Exe != "" {
		spec.Exe = req.Exe
	}
	if req.Args != nil {
		spec.Args = req.Args
	}
	if req.WorkDir != "" {
		spec.WorkDir = req.WorkDir
	}
	if req.Env != nil {
		spec.Env = append(append([]string(nil), r.defaults.Env...), req.Env...)
	}
	return spec
}

func (r *Router) handleStart(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	if err := checkWorkDir(req.WorkDir); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := checkEnv(req.Env); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	spec := r.merge(req)
	if err := spec.Validate(); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	pid, err := r.ctl.Start(spec)
	if err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	writeJSON(c, http.StatusOK, StartResponse{PID: pid})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.ctl.Stop(); err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	st := r.ctl.Status(c.Request.Context())
	if st.Proxies == nil {
		st.Proxies = []event.Sample{}
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleProxies(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.Proxies())
}

func (r *Router) handleApplyProxies(c *gin.Context) {
	var eps []relay.Endpoint
	if err := c.ShouldBindJSON(&eps); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	for _, ep := range eps {
		if !validProxyID(ep.ID) {
			writeError(c, http.StatusBadRequest, fmt.Sprintf("invalid proxy id %q: allowed [A-Za-z0-9._-]", ep.ID))
			return
		}
	}
	if err := r.ctl.ApplyProxies(eps); err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	r.log.Info("proxies applied", "count", len(eps))
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleEvents(c *gin.Context) {
	var want map[event.Kind]bool
	if kinds := c.Query("kinds"); kinds != "" {
		want = make(map[event.Kind]bool)
		for _, k := range strings.Split(kinds, ",") {
			want[event.Kind(strings.TrimSpace(k))] = true
		}
	}

	sub := r.ctl.Subscribe()
	defer sub.Close()
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case e, ok := <-sub.C():
			if !ok {
				return false
			}
			if want == nil || want[e.Kind] {
				c.SSEvent(string(e.Kind), e.Payload())
			}
			return true
		case <-ctx.Done():
			return false
		}
	})
	if n := sub.Dropped(); n > 0 {
		r.log.Warn("event stream client fell behind", "dropped", n, "remote", c.ClientIP())
	}
}

// statusFor maps supervisor errors onto HTTP status codes.
func statusFor(err error) int {
	var spawn *runner.SpawnError
	var sig *runner.SignalError
	switch {
	case errors.Is(err, runner.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.As(err, &spawn):
		return http.StatusBadRequest
	case errors.As(err, &sig):
		return http.StatusInternalServerError
	case errors.Is(err, supervisor.ErrClosed), errors.Is(err, relay.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		// remaining errors come from validating or binding caller input
		return http.StatusBadRequest
	}
}
