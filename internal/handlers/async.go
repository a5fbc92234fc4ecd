package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/framefeed/display-pipeline/internal/workflows"
	"github.com/framefeed/display-pipeline/pkg/pipeline"
)

// AsyncHandler handles asynchronous source-processing requests
type AsyncHandler struct {
	workflowRunner *workflows.WorkflowRunner
	logger         zerolog.Logger
}

// NewAsyncHandler creates a new async handler
func NewAsyncHandler(runner *workflows.WorkflowRunner, logger zerolog.Logger) *AsyncHandler {
	return &AsyncHandler{
		workflowRunner: runner,
		logger:         logger,
	}
}

// HandleProcessAsync handles POST /v1/process - enqueues a source
// workflow and returns immediately
func (h *AsyncHandler) HandleProcessAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pipeline.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if req.Source.ID == "" {
		http.Error(w, "source.id is required", http.StatusBadRequest)
		return
	}
	if req.Source.StagingPath == "" {
		http.Error(w, "source.staging_path is required", http.StatusBadRequest)
		return
	}
	if req.Job == "" {
		req.Job = pipeline.JobProcessSource
	}

	h.logger.Info().
		Str("source_id", req.Source.ID).
		Str("job", req.Job).
		Msg("enqueueing workflow")

	runID, err := h.workflowRunner.RunAsync(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to enqueue workflow")
		http.Error(w, fmt.Sprintf("Failed to enqueue workflow: %v", err), http.StatusInternalServerError)
		return
	}

	h.logger.Info().Str("run_id", runID).Msg("workflow enqueued")

	resp := pipeline.ProcessResponse{RunID: runID}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(resp)
}

// HandleHealth returns health status
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}
