package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loykin/xvbd/internal/manager"
	"github.com/loykin/xvbd/internal/process"
)

func (r *Router) handleProcess(c *gin.Context) {
	if r.deps.Processes == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "process supervision disabled"})
		return
	}
	name := c.Param("name")
	if !validProcessName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid process name"})
		return
	}
	sig, err := process.ParseSignal(c.Param("signal"))
	if err != nil || sig == process.SignalNone {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "signal must be start, stop or restart"})
		return
	}
	if err := r.deps.Processes.Signal(manager.Name(name), sig); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, manager.ErrUnknownProcess) {
			code = http.StatusNotFound
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	if r.deps.Loop != nil {
		r.deps.Loop.Trigger()
	}
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}
