package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aristath/tradelog/internal/events"
	"github.com/aristath/tradelog/internal/export"
	"github.com/aristath/tradelog/internal/locale"
	"github.com/aristath/tradelog/internal/reliability"
	"github.com/aristath/tradelog/internal/scheduler"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "tradelog",
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleListRuns returns recent collection runs
// GET /api/runs?limit=N
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list runs")
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// handleListBackups returns local archive snapshots, newest first
// GET /api/backups
func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		s.writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}

	backups, err := s.backups.List()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list backups")
		s.writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	if backups == nil {
		backups = []reliability.Backup{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"backups": backups})
}

// handleTriggerSync starts a sync in the background
// POST /api/sync
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		s.writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	if s.sync.Status().Running {
		s.writeError(w, http.StatusConflict, scheduler.ErrSyncRunning.Error())
		return
	}

	s.log.Info().Msg("Manual sync triggered")
	go func() {
		// The request context ends with the response
		if err := s.sync.RunContext(context.Background()); err != nil && !errors.Is(err, scheduler.ErrSyncRunning) {
			s.log.Error().Err(err).Msg("Manual sync failed")
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Sync started",
	})
}

// handleExportFile serves the most recent exported CSV
// GET /api/export.csv
func (s *Server) handleExportFile(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(s.csvPath)
	if errors.Is(err, os.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "no export available yet")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("path", s.csvPath).Msg("Failed to open export")
		s.writeError(w, http.StatusInternalServerError, "failed to open export")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to open export")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="account_transactions.csv"`)
	http.ServeContent(w, r, "account_transactions.csv", info.ModTime(), f)
}

// handleRenderTransactions renders archived records as CSV
// GET /api/transactions.csv?days=N&lang=xx
func (s *Server) handleRenderTransactions(w http.ResponseWriter, r *http.Request) {
	var cutoff time.Time
	if v := r.URL.Query().Get("days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			s.writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		cutoff = time.Now().AddDate(0, 0, -days)
	}

	requested := r.URL.Query().Get("lang")
	if requested == "" {
		requested = s.language
	}
	lang, ok := locale.ResolveLanguage(requested, s.systemLocale())
	if !ok {
		s.log.Info().Str("requested", requested).Msg("Language not supported, rendering in English")
	}

	records, err := s.runs.Since(cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read archive")
		s.writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}

	evts := make([]*events.Event, 0, len(records))
	for i, record := range records {
		event, err := events.FromRaw(record)
		if err != nil {
			s.log.Warn().Err(&events.DeserializationError{Index: i, ID: record.ID(), Err: err}).Msg("Skipping archived record")
			continue
		}
		evts = append(evts, event)
	}
	export.SortByDate(evts)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(export.Render(evts, lang)))
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"status": "error", "message": message})
}
