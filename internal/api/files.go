package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
	"github.com/dharsanguruparan/ChunkDrop/internal/upload"
)

// multipartOverhead covers form boundaries and part headers around the file.
const multipartOverhead = 1 << 20

func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	limit := s.svc.Options().MultipartThreshold
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		badRequest(w, "expecting multipart form")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		badRequest(w, "missing form field \"file\"")
		return
	}
	defer part.Close()
	tmp, err := s.persistTemp(part, limit)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()

	name := r.URL.Query().Get("name")
	if name == "" {
		name = tmp.filename
	}
	rec, err := s.svc.UploadDirect(r.Context(), upload.DirectRequest{
		OwnerEntityID: chi.URLParam(r, "entityID"),
		FileName:      name,
		ContentType:   tmp.contentType,
		Size:          tmp.size,
		Body:          tmp.f,
		UserID:        UserID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.svc.ListFiles(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]*model.FileRecord{"files": files})
}

func (s *Server) handleFileURL(w http.ResponseWriter, r *http.Request) {
	u, err := s.svc.FileURL(r.Context(), chi.URLParam(r, "entityID"), fileNameParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	body, rec, err := s.svc.OpenFile(r.Context(), chi.URLParam(r, "entityID"), fileNameParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.FileSize, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.FileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("stream file content", "file_id", rec.ID, "error", err)
	}
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	err := s.svc.DeleteFile(r.Context(), chi.URLParam(r, "entityID"), fileNameParam(r), UserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fileNameParam returns the {fileName} segment decoded exactly once. chi
// routes on RawPath when it is set, so only that form is still escaped.
func fileNameParam(r *http.Request) string {
	raw := chi.URLParam(r, "fileName")
	if r.URL.RawPath == "" {
		return raw
	}
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

// persistTemp spools the file part to disk to learn its size before the store
// write. Files of limit bytes or more belong on the chunked path.
func (s *Server) persistTemp(part *multipart.Part, limit int64) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp(s.tempDir, "chunkdrop-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	fail := func(err error) (*tempUpload, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written >= limit {
				return fail(fmt.Errorf("file reaches the multipart threshold (%d bytes); use a chunked upload", limit))
			}
			if len(sniff) < 512 {
				take := n
				if remain := 512 - len(sniff); take > remain {
					take = remain
				}
				sniff = append(sniff, buf[:take]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fail(fmt.Errorf("read file: %w", readErr))
		}
	}
	if written == 0 {
		return fail(errors.New("empty file"))
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewind temp file: %w", err))
	}
	contentType := part.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = ""
		if mime.TypeByExtension(path.Ext(part.FileName())) == "" {
			contentType = http.DetectContentType(sniff)
		}
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: contentType,
		filename:    part.FileName(),
	}, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}
