package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/tradelog/internal/archive"
	"github.com/aristath/tradelog/internal/scheduler"
)

// SystemHandlers serves process and sync status
type SystemHandlers struct {
	log     zerolog.Logger
	dataDir string
	runs    RunStore
	sync    SyncController
	started time.Time
}

// SystemStatusResponse is the body of GET /api/status
type SystemStatusResponse struct {
	Status          string                `json:"status"`
	Uptime          string                `json:"uptime"`
	CPUPercent      float64               `json:"cpu_percent"`
	MemoryPercent   float64               `json:"memory_percent"`
	DataDirMB       float64               `json:"data_dir_mb"`
	ArchivedRecords int                   `json:"archived_records"`
	LastSync        *archive.Run          `json:"last_sync,omitempty"`
	Sync            *scheduler.SyncStatus `json:"sync,omitempty"`
}

// NewSystemHandlers creates system handlers. sync may be nil.
func NewSystemHandlers(log zerolog.Logger, dataDir string, runs RunStore, sync SyncController) *SystemHandlers {
	return &SystemHandlers{
		log:     log.With().Str("service", "system").Logger(),
		dataDir: dataDir,
		runs:    runs,
		sync:    sync,
		started: time.Now(),
	}
}

// HandleSystemStatus returns process, archive and sync status
// GET /api/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		Uptime:        time.Since(h.started).Round(time.Second).String(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		DataDirMB:     h.getDirSize(h.dataDir),
	}

	if h.runs != nil {
		if n, err := h.runs.Count(); err != nil {
			h.log.Warn().Err(err).Msg("Failed to count archived records")
			response.Status = "degraded"
		} else {
			response.ArchivedRecords = n
		}

		if last, err := h.runs.LastSuccessfulRun(); err != nil {
			h.log.Warn().Err(err).Msg("Failed to load last run")
			response.Status = "degraded"
		} else {
			response.LastSync = last
		}
	}

	if h.sync != nil {
		status := h.sync.Status()
		response.Sync = &status
	}

	h.writeJSON(w, response)
}

// getSystemStats calculates CPU and RAM usage percentages
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	// Short interval to keep the endpoint responsive
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	if dirPath == "" {
		return 0
	}
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
