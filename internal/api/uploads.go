package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
	"github.com/dharsanguruparan/ChunkDrop/internal/upload"
)

type initiateRequest struct {
	OwnerEntityID string `json:"ownerEntityId"`
	FileName      string `json:"fileName"`
	ContentType   string `json:"contentType"`
	TotalSize     int64  `json:"totalSize"`
	ChunkSize     int64  `json:"chunkSize"`
}

// sessionResponse is a session plus its derived progress.
type sessionResponse struct {
	*model.UploadSession
	Progress      model.Progress `json:"progress"`
	MissingChunks []int          `json:"missingChunks"`
}

func newSessionResponse(s *model.UploadSession) sessionResponse {
	return sessionResponse{UploadSession: s, Progress: s.Progress(), MissingChunks: s.MissingChunks()}
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "malformed request body: "+err.Error())
		return
	}
	session, err := s.svc.Initiate(r.Context(), upload.InitiateRequest{
		OwnerEntityID: req.OwnerEntityID,
		FileName:      req.FileName,
		ContentType:   req.ContentType,
		TotalSize:     req.TotalSize,
		ChunkSize:     req.ChunkSize,
		UserID:        UserID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newSessionResponse(session))
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	chunk, err := strconv.Atoi(chi.URLParam(r, "chunk"))
	if err != nil {
		badRequest(w, "chunk number must be an integer")
		return
	}
	if r.ContentLength < 0 {
		writeStatus(w, http.StatusLengthRequired, string(upload.KindInvalid), "Content-Length is required")
		return
	}
	progress, err := s.svc.UploadChunk(r.Context(), upload.ChunkRequest{
		UploadID:    chi.URLParam(r, "uploadID"),
		ChunkNumber: chunk,
		Size:        r.ContentLength,
		Body:        http.MaxBytesReader(w, r.Body, r.ContentLength),
		UserID:      UserID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Complete(r.Context(), chi.URLParam(r, "uploadID"), UserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Cancel(r.Context(), chi.URLParam(r, "uploadID"), UserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newSessionResponse(session))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Status(r.Context(), chi.URLParam(r, "uploadID"), UserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newSessionResponse(session))
}
