package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/agentgate/gateway/pkg/responders"
)

// health returns service health status including ledger RPC connectivity.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := time.Now()
	rpcHealthy := true
	if h.rpcProbe != nil {
		rpcHealthy = h.rpcProbe(ctx)
	}

	status := "ok"
	statusCode := http.StatusOK
	if !rpcHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]any{
		"status":     status,
		"uptime":     now.Sub(serverStartTime).String(),
		"timestamp":  now.UTC(),
		"rpcHealthy": rpcHealthy,
		"chain":      h.cfg.Chain.Name,
		"chainId":    h.cfg.Chain.ID,
	}
	if h.cfg.Server.RoutePrefix != "" {
		response["routePrefix"] = h.cfg.Server.RoutePrefix
	}

	responders.JSON(w, statusCode, response)
}

// revenueSnapshot exposes the operational revenue counters for
// introspection. Not protocol-critical; guarded by the admin metrics key.
func (h *handlers) revenueSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.revenue == nil {
		responders.JSON(w, http.StatusNotFound, map[string]any{"error": "revenue counters disabled"})
		return
	}
	responders.JSON(w, http.StatusOK, h.revenue.Snapshot())
}
