package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/sensor-elt/internal/database"
	"github.com/ThiagoRGoveia/sensor-elt/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxRunListLimit = 500
	healthTimeout   = 2 * time.Second
)

type RunService struct {
	DBManager database.DBManager
	logger    *zap.Logger
}

func NewRunService(dbManager database.DBManager, logger *zap.Logger) *RunService {
	return &RunService{DBManager: dbManager, logger: logger}
}

// ListRuns serves GET /runs?source_file=&status=&limit=.
func (h *RunService) ListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := database.RunFilter{SourceFile: query.Get("source_file")}

	if status := query.Get("status"); status != "" {
		parsed, err := models.ParseRunStatus(status)
		if err != nil {
			http.Error(w, "Invalid 'status'. Use running, success or failed.", http.StatusBadRequest)
			return
		}
		filter.Status = parsed
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > maxRunListLimit {
			http.Error(w, "Invalid 'limit'. Use an integer between 1 and 500.", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	runs, err := h.DBManager.ListRuns(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list runs", zap.Error(err))
		http.Error(w, "Failed to retrieve runs", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, runs)
}

// GetRun serves GET /runs/{run_id}.
func (h *RunService) GetRun(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/runs/")
	if idStr == "" {
		http.Error(w, "Run id is required in the URL path /runs/{run_id}", http.StatusBadRequest)
		return
	}

	runID, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "Invalid run id", http.StatusBadRequest)
		return
	}

	run, err := h.DBManager.GetRun(r.Context(), runID)
	if errors.Is(err, models.ErrRunNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get run", zap.String("run_id", runID.String()), zap.Error(err))
		http.Error(w, "Failed to retrieve run", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, run)
}

// GetReading serves GET /readings/{id}.
func (h *RunService) GetReading(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/readings/")
	if id == "" {
		http.Error(w, "Reading id is required in the URL path /readings/{id}", http.StatusBadRequest)
		return
	}

	reading, err := h.DBManager.GetReading(r.Context(), id)
	if errors.Is(err, models.ErrReadingNotFound) {
		http.Error(w, "Reading not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get reading", zap.String("id", id), zap.Error(err))
		http.Error(w, "Failed to retrieve reading", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, reading)
}

// Health reports whether the database answers.
func (h *RunService) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.DBManager.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}

	h.writeJSON(w, map[string]string{"status": "ok"})
}

func (h *RunService) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
