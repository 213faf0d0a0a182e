// internal/server/handlers.go
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "trial-screener/internal/common/errors"
	categorizeconditions "trial-screener/internal/workers/taxonomy/categorize-conditions"
)

const maxCategorizeBody = 8 << 20

type healthResponse struct {
	Status        string `json:"status"`
	APIConfigured bool   `json:"api_configured,omitempty"`
	Error         string `json:"error,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Detail: "Method Not Allowed"})
		return
	}
	if !s.apiConfigured {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status: "unhealthy",
			Error:  "API_KEY not configured",
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", APIConfigured: true})
}

func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	var input categorizeconditions.Input
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCategorizeBody))
	if err := decoder.Decode(&input); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "invalid request body: " + err.Error()})
		return
	}

	output, err := s.classifier.Execute(r.Context(), &input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("X-Chunks-Attempted", strconv.Itoa(output.Partial.ChunksAttempted))
	w.Header().Set("X-Chunks-Succeeded", strconv.Itoa(output.Partial.ChunksSucceeded))
	if output.Cached {
		w.Header().Set("X-Cache", "HIT")
	}
	if output.RunID != "" {
		w.Header().Set("X-Run-ID", output.RunID)
	}
	writeJSON(w, http.StatusOK, output.Result)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Detail: "Not Found"})
}

// writeError maps err onto a status and a human-readable detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	stdErr := apperrors.Normalize(err)

	detail := "Categorization failed: " + err.Error()
	switch stdErr.Code {
	case apperrors.ErrCodeConfiguration, apperrors.ErrCodeInvalidInput:
		detail = stdErr.Details
	}

	fields := map[string]interface{}{
		"path":   r.URL.Path,
		"status": status,
		"code":   string(stdErr.Code),
		"error":  err.Error(),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", fields)
	} else {
		s.logger.Warn("Request rejected", fields)
	}
	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
