// Package client talks to the ChunkDrop HTTP API. UploadFile picks the direct
// or chunked path by size, sends chunks in parallel with per-chunk retries,
// and resumes an interrupted session from the server's chunk ledger.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
)

// Error is a non-2xx API response.
type Error struct {
	Status    int    `json:"-"`
	Code      string `json:"error"`
	ID        string `json:"id"`
	Message   string `json:"message"`
	Missing   int    `json:"missing"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Temporary reports whether repeating the request may succeed.
func (e *Error) Temporary() bool {
	switch e.Status {
	case http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusGatewayTimeout:
		return true
	case http.StatusInternalServerError:
		return e.Retryable
	}
	return false
}

// Session mirrors the server's session response.
type Session struct {
	model.UploadSession
	Progress      model.Progress `json:"progress"`
	MissingChunks []int          `json:"missingChunks"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	http       *http.Client
	threshold  int64
	chunkSize  int64
	parallel   int
	maxRetries uint64
	newBackOff func() backoff.BackOff
	onProgress func(model.Progress)
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithThreshold sets the size at which UploadFile switches to chunks. It must
// match the server's multipart threshold.
func WithThreshold(n int64) Option { return func(c *Client) { c.threshold = n } }

// WithChunkSize requests a chunk size; zero lets the server choose.
func WithChunkSize(n int64) Option { return func(c *Client) { c.chunkSize = n } }

// WithParallelism bounds concurrent chunk requests.
func WithParallelism(n int) Option { return func(c *Client) { c.parallel = n } }

// WithRetries bounds retries per chunk.
func WithRetries(n uint64) Option { return func(c *Client) { c.maxRetries = n } }

// WithBackOff replaces the exponential retry schedule.
func WithBackOff(f func() backoff.BackOff) Option { return func(c *Client) { c.newBackOff = f } }

// WithProgress registers a callback invoked after every stored chunk.
func WithProgress(f func(model.Progress)) Option { return func(c *Client) { c.onProgress = f } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a Client for baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		http:       &http.Client{Timeout: 10 * time.Minute},
		threshold:  30 << 20,
		parallel:   4,
		maxRetries: 5,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.parallel <= 0 {
		c.parallel = 1
	}
	return c
}

// Initiate opens a chunked upload session.
func (c *Client) Initiate(ctx context.Context, entityID, fileName, contentType string, size int64) (*Session, error) {
	body, err := json.Marshal(map[string]any{
		"ownerEntityId": entityID,
		"fileName":      fileName,
		"contentType":   contentType,
		"totalSize":     size,
		"chunkSize":     c.chunkSize,
	})
	if err != nil {
		return nil, err
	}
	var out Session
	err = c.do(ctx, http.MethodPost, "/v1/uploads", bytes.NewReader(body), "application/json", &out)
	return &out, err
}

// PutChunk sends one chunk without retrying.
func (c *Client) PutChunk(ctx context.Context, uploadID string, n int, body []byte) (model.Progress, error) {
	var out model.Progress
	p := fmt.Sprintf("/v1/uploads/%s/chunks/%d", url.PathEscape(uploadID), n)
	err := c.do(ctx, http.MethodPut, p, bytes.NewReader(body), "application/octet-stream", &out)
	return out, err
}

// Complete asks the server to assemble the uploaded chunks.
func (c *Client) Complete(ctx context.Context, uploadID string) (*model.FileRecord, error) {
	var out model.FileRecord
	err := c.do(ctx, http.MethodPost, "/v1/uploads/"+url.PathEscape(uploadID)+"/complete", nil, "", &out)
	return &out, err
}

// Status fetches a session.
func (c *Client) Status(ctx context.Context, uploadID string) (*Session, error) {
	var out Session
	err := c.do(ctx, http.MethodGet, "/v1/uploads/"+url.PathEscape(uploadID), nil, "", &out)
	return &out, err
}

// Cancel aborts a session.
func (c *Client) Cancel(ctx context.Context, uploadID string) (*Session, error) {
	var out Session
	err := c.do(ctx, http.MethodDelete, "/v1/uploads/"+url.PathEscape(uploadID), nil, "", &out)
	return &out, err
}

// UploadDirect sends a small file as a multipart form.
func (c *Client) UploadDirect(ctx context.Context, entityID, fileName string, r io.Reader) (*model.FileRecord, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fw, err := mw.CreateFormFile("file", fileName)
		if err == nil {
			_, err = io.Copy(fw, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	var out model.FileRecord
	p := "/v1/entities/" + url.PathEscape(entityID) + "/files?name=" + url.QueryEscape(fileName)
	err := c.do(ctx, http.MethodPost, p, pr, mw.FormDataContentType(), &out)
	// Unblock the writer goroutine if the request ended before reading the body.
	pr.CloseWithError(io.ErrClosedPipe)
	return &out, err
}

// UploadFile uploads the file at path under entityID. A non-empty resumeID
// continues that session instead of opening a new one.
func (c *Client) UploadFile(ctx context.Context, entityID, path, resumeID string) (*model.FileRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	if resumeID == "" && info.Size() < c.threshold {
		return c.UploadDirect(ctx, entityID, name, f)
	}

	var session *Session
	if resumeID != "" {
		session, err = c.Status(ctx, resumeID)
		if err != nil {
			return nil, fmt.Errorf("resume %s: %w", resumeID, err)
		}
		if session.TotalSize != info.Size() {
			return nil, fmt.Errorf("resume %s: session expects %d bytes, file has %d", resumeID, session.TotalSize, info.Size())
		}
		if session.Status != model.StatusInProgress {
			return nil, fmt.Errorf("resume %s: session is %s", resumeID, session.Status)
		}
	} else {
		session, err = c.Initiate(ctx, entityID, name, "", info.Size())
		if err != nil {
			return nil, err
		}
		c.logger.Info("upload started", "upload_id", session.UploadID, "total_chunks", session.TotalChunks)
	}

	if err := c.sendChunks(ctx, f, session); err != nil {
		return nil, fmt.Errorf("upload %s: %w", session.UploadID, err)
	}
	rec, err := c.Complete(ctx, session.UploadID)
	if err != nil {
		return nil, fmt.Errorf("complete %s: %w", session.UploadID, err)
	}
	return rec, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// retryable reports whether a chunk request should be repeated.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	// Transport failures: connection refused, reset, timeouts.
	return true
}
