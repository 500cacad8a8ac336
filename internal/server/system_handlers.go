package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/stockagent/internal/storage"
)

// SystemHandlers serves host and process monitoring endpoints
type SystemHandlers struct {
	db          *storage.DB
	startupTime time.Time
	log         zerolog.Logger
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(db *storage.DB, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		db:          db,
		startupTime: time.Now(),
		log:         log.With().Str("component", "system").Logger(),
	}
}

// handleSystemInfo reports host CPU, memory and process statistics
func (h *SystemHandlers) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		info["cpu_percent"] = percents[0]
	} else if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read CPU usage")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info["memory"] = map[string]any{
			"total_bytes": vm.Total,
			"used_bytes":  vm.Used,
			"percent":     vm.UsedPercent,
		}
	} else {
		h.log.Warn().Err(err).Msg("Failed to read memory usage")
	}

	dbHealthy := true
	if err := h.db.HealthCheck(r.Context()); err != nil {
		dbHealthy = false
		h.log.Warn().Err(err).Msg("Database health check failed")
	}
	info["database_healthy"] = dbHealthy

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode system info")
	}
}
