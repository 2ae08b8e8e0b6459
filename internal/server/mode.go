package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loykin/xvbd/internal/allocation"
	"github.com/loykin/xvbd/internal/hashrate"
)

// ModeRequest changes allocation settings. Omitted fields are left as they are.
type ModeRequest struct {
	Mode          *string  `json:"mode,omitempty"`
	DonationLevel *string  `json:"donation_level,omitempty"`
	ManualAmount  *float64 `json:"manual_amount,omitempty"`
	Metric        *string  `json:"metric,omitempty"`
	Buffer        *int     `json:"buffer,omitempty"`
}

func (r *Router) handleMode(c *gin.Context) {
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	// parse everything before touching the runtime so a bad field changes nothing
	var (
		kind  allocation.Kind
		level allocation.DonationLevel
		unit  = hashrate.Hash
		err   error
	)
	if req.Mode != nil {
		if kind, err = allocation.ParseKind(*req.Mode); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
	}
	if req.DonationLevel != nil {
		if level, err = allocation.ParseDonationLevel(*req.DonationLevel); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
	}
	if req.Metric != nil {
		if unit, err = hashrate.ParseUnit(*req.Metric); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
	}
	if req.ManualAmount != nil && *req.ManualAmount < 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "manual_amount must not be negative"})
		return
	}

	rt := r.deps.Runtime
	if req.Mode != nil {
		rt.SetMode(kind)
	}
	if req.DonationLevel != nil {
		rt.SetDonationLevel(level)
	}
	if req.ManualAmount != nil {
		rt.SetManual(*req.ManualAmount, unit)
	}
	if req.Buffer != nil {
		rt.SetBuffer(*req.Buffer)
	}
	if r.deps.Loop != nil {
		r.deps.Loop.Trigger()
	}
	writeJSON(c, http.StatusOK, rt.Settings())
}
