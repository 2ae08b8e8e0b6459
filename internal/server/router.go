// Package server exposes the daemon's control surface over HTTP.
//
// Endpoints, relative to basePath:
//
//	GET  /status                    runtime, decision, processes, credential state
//	POST /mode                      body: ModeRequest
//	POST /process/:name/:signal     signal is start, stop or restart
//	GET  /sudo                      credential test state
//	POST /sudo                      body: SudoRequest; starts a credential test
//	GET  /metrics                   Prometheus exposition, when enabled
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/xvbd/internal/allocation"
	"github.com/loykin/xvbd/internal/control"
	"github.com/loykin/xvbd/internal/manager"
	"github.com/loykin/xvbd/internal/state"
	"github.com/loykin/xvbd/internal/sudo"
)

// Loop is the part of the control loop the router drives.
type Loop interface {
	Phase() control.Phase
	Trigger()
}

// Deps are the components the router reads and commands.
type Deps struct {
	Runtime   *state.Runtime
	Processes *manager.Supervisor
	Sudo      *sudo.State
	Tester    *sudo.Tester
	Loop      Loop
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
}

type Router struct {
	deps     Deps
	basePath string
}

func NewRouter(deps Deps, basePath string) *Router {
	return &Router{deps: deps, basePath: mountPath(basePath)}
}

// Handler returns a gin engine that can be mounted in any server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/mode", r.handleMode)
	group.POST("/process/:name/:signal", r.handleProcess)
	group.GET("/sudo", r.handleSudoState)
	group.POST("/sudo", r.handleSudo)
	if r.deps.Metrics != nil {
		group.GET("/metrics", gin.WrapH(r.deps.Metrics))
	}
	return g
}

// NewServer builds an http.Server for addr. The caller owns ListenAndServe
// and Shutdown.
func NewServer(addr, basePath string, deps Deps) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(deps, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// StatusResponse is the GET /status payload.
type StatusResponse struct {
	Phase     control.Phase        `json:"phase"`
	Settings  allocation.Settings  `json:"settings"`
	Stats     state.Stats          `json:"stats"`
	Decision  *allocation.Decision `json:"decision,omitempty"`
	Processes []manager.Status     `json:"processes"`
	Sudo      sudo.Snapshot        `json:"sudo"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := StatusResponse{
		Settings:  r.deps.Runtime.Settings(),
		Stats:     r.deps.Runtime.Stats(),
		Processes: []manager.Status{},
	}
	if d, ok := r.deps.Runtime.Decision(); ok {
		resp.Decision = &d
	}
	if r.deps.Loop != nil {
		resp.Phase = r.deps.Loop.Phase()
	}
	if r.deps.Processes != nil {
		resp.Processes = r.deps.Processes.StatusAll()
	}
	if r.deps.Sudo != nil {
		resp.Sudo = r.deps.Sudo.Snapshot()
	}
	writeJSON(c, http.StatusOK, resp)
}
