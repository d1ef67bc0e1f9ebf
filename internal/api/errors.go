package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dharsanguruparan/ChunkDrop/internal/upload"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	ID        string `json:"id,omitempty"`
	Message   string `json:"message"`
	Missing   int    `json:"missing,omitempty"`
	Retryable bool   `json:"retryable"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Warn("encode response", "error", err)
	}
}

func writeStatus(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: code, Message: message})
}

func badRequest(w http.ResponseWriter, message string) {
	writeStatus(w, http.StatusBadRequest, string(upload.KindInvalid), message)
}

// statusFor maps an upload error kind to its HTTP status.
func statusFor(e *upload.Error) int {
	switch e.Kind {
	case upload.KindInvalid:
		return http.StatusBadRequest
	case upload.KindUnauthorized:
		return http.StatusForbidden
	case upload.KindNotFound:
		return http.StatusNotFound
	case upload.KindInvalidState, upload.KindIncompleteUpload:
		return http.StatusConflict
	case upload.KindStoreUnavailable:
		if e.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Internal details are logged, not returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := upload.AsError(err)
	if !ok {
		e = &upload.Error{Kind: upload.KindInternal, Err: err}
	}
	status := statusFor(e)
	body := errorBody{
		Error:     string(e.Kind),
		ID:        e.ID,
		Missing:   e.Missing,
		Retryable: e.Retryable,
		Message:   e.Reason,
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if body.Message == "" {
			body.Message = http.StatusText(status)
		}
	}
	if body.Message == "" {
		body.Message = e.Error()
	}
	respondJSON(w, status, body)
}
