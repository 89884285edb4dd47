package httpapi

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/linktum-network/matrix-service/internal/app/domain/matrix"
)

var startedAt = time.Now()

type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	LedgerOK      bool    `json:"ledger_ok"`
	MemoryUsedPct float64 `json:"memory_used_pct,omitempty"`
}

// handleHealth reports liveness plus a quick ledger probe. The probe uses
// a cheap constant read so a scrape never hammers the RPC endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(startedAt).Seconds(),
	}

	if _, err := s.gateway.LevelCost(r.Context(), matrix.ProgramX4, 1); err != nil {
		out.LedgerOK = false
		out.Status = "degraded"
	} else {
		out.LedgerOK = true
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		out.MemoryUsedPct = vm.UsedPercent
	}

	status := http.StatusOK
	if out.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	respond(w, status, out)
}
