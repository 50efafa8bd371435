// Package fakeserver is an in-process implementation of the drawing-analysis
// backend. It serves the upload, processing and auxiliary endpoints with
// scripted behaviour and is used by tests and the mock-server command.
package fakeserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/observability"
)

const maxUploadMemory = 32 << 20

var pageObject = regexp.MustCompile(`/Type\s*/Page[^s]`)

// Script returns the raw frames written for one streaming request. Frames
// are written verbatim, so a script can produce malformed output.
type Script func(req domain.ProcessRequest) []string

// StoredFile is an upload held by the fake server.
type StoredFile struct {
	ID         string
	Name       string
	Size       int64
	TotalPages int
	UploadedAt time.Time
}

// Server is the fake backend.
type Server struct {
	logger     *observability.Logger
	script     Script
	chunkSize  int
	frameDelay time.Duration
	holdOpen   bool

	uploadStatus int
	uploadBody   string

	mu       sync.Mutex
	files    map[string]StoredFile
	requests []domain.ProcessRequest
	uploads  int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *observability.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithScript replaces the default processing script.
func WithScript(script Script) Option {
	return func(s *Server) {
		if script != nil {
			s.script = script
		}
	}
}

// WithChunkSize splits every stream write into chunks of n bytes, each
// flushed separately.
func WithChunkSize(n int) Option {
	return func(s *Server) {
		s.chunkSize = n
	}
}

// WithFrameDelay pauses between frames.
func WithFrameDelay(d time.Duration) Option {
	return func(s *Server) {
		s.frameDelay = d
	}
}

// WithHoldOpen keeps the stream open after the script is exhausted until
// the client goes away.
func WithHoldOpen() Option {
	return func(s *Server) {
		s.holdOpen = true
	}
}

// WithUploadFailure makes every upload answer with status and a raw body.
func WithUploadFailure(status int, body string) Option {
	return func(s *Server) {
		s.uploadStatus = status
		s.uploadBody = body
	}
}

// New creates a fake backend.
func New(opts ...Option) *Server {
	s := &Server{
		logger: observability.Nop(),
		script: DefaultScript,
		files:  make(map[string]StoredFile),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("fakeserver")
	return s
}

// Handler returns the HTTP handler with every route mounted under /api/v1.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/models", s.models)
		r.Post("/upload", s.upload)
		r.Post("/process-page", s.processPage)
		r.Post("/process-page-stream", s.processPageStream)
		r.Get("/file-info/{fileId}", s.fileInfo)
		r.Delete("/file/{fileId}", s.deleteFile)
	})
	return r
}

// AddFile registers a file as if it had been uploaded.
func (s *Server) AddFile(f StoredFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.ID] = f
}

// Uploads returns how many uploads succeeded.
func (s *Server) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// Requests returns the processing requests received so far.
func (s *Server) Requests() []domain.ProcessRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProcessRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.HealthStatus{Status: "healthy", Version: "fake"})
}

func (s *Server) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": Models})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if s.uploadStatus != 0 {
		w.WriteHeader(s.uploadStatus)
		_, _ = io.WriteString(w, s.uploadBody)
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		writeDetail(w, http.StatusBadRequest, "Only PDF files are supported")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Failed to read upload")
		return
	}

	stored := StoredFile{
		ID:         uuid.NewString(),
		Name:       header.Filename,
		Size:       int64(len(data)),
		TotalPages: countPages(data),
		UploadedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.files[stored.ID] = stored
	s.uploads++
	s.mu.Unlock()

	s.logger.Info().Str("file_id", stored.ID).Str("name", stored.Name).Int("pages", stored.TotalPages).Msg("stored upload")

	writeJSON(w, http.StatusOK, domain.UploadResponse{
		FileID:          stored.ID,
		Filename:        stored.Name,
		FileSizeBytes:   stored.Size,
		TotalPages:      stored.TotalPages,
		UploadTimestamp: stored.UploadedAt.Format(time.RFC3339),
		StoragePath:     "uploads/" + stored.ID + ".pdf",
	})
}

func (s *Server) processPage(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeProcessRequest(w, r)
	if !ok {
		return
	}
	if msg := s.validatePage(req); msg != "" {
		writeDetail(w, http.StatusBadRequest, msg)
		return
	}
	writeJSON(w, http.StatusOK, DefaultResult(req))
}

func (s *Server) processPageStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeProcessRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	frames := s.script(req)
	if msg := s.validatePage(req); msg != "" {
		frames = []string{ErrorFrame(msg)}
	}

	ctx := r.Context()
	for i, frame := range frames {
		if i > 0 && s.frameDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.frameDelay):
			}
		}
		if err := s.writeChunked(w, flusher, frame); err != nil {
			s.logger.Debug().Err(err).Msg("client went away")
			return
		}
	}

	if s.holdOpen {
		<-ctx.Done()
	}
}

func (s *Server) writeChunked(w io.Writer, flusher http.Flusher, frame string) error {
	data := []byte(frame)
	size := s.chunkSize
	if size <= 0 {
		size = len(data)
	}
	for len(data) > 0 {
		n := min(size, len(data))
		if _, err := w.Write(data[:n]); err != nil {
			return err
		}
		flusher.Flush()
		data = data[n:]
	}
	return nil
}

func (s *Server) decodeProcessRequest(w http.ResponseWriter, r *http.Request) (domain.ProcessRequest, bool) {
	var req domain.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return req, false
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	_, known := s.files[req.FileID]
	s.mu.Unlock()

	if !known {
		writeDetail(w, http.StatusNotFound, "File not found")
		return req, false
	}
	if !validModel(req.ModelType) {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Unknown model type: %s", req.ModelType))
		return req, false
	}
	return req, true
}

// validatePage returns a detail message when the page is out of range.
func (s *Server) validatePage(req domain.ProcessRequest) string {
	s.mu.Lock()
	f := s.files[req.FileID]
	s.mu.Unlock()
	if req.PageNumber < 1 || req.PageNumber > f.TotalPages {
		return fmt.Sprintf("Invalid page number %d (document has %d pages)", req.PageNumber, f.TotalPages)
	}
	return ""
}

func (s *Server) fileInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fileId")
	s.mu.Lock()
	f, ok := s.files[id]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "File not found")
		return
	}
	writeJSON(w, http.StatusOK, domain.FileInfo{
		FileID:     f.ID,
		Filename:   f.Name,
		NumPages:   f.TotalPages,
		UploadTime: f.UploadedAt.Format(time.RFC3339),
	})
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fileId")
	s.mu.Lock()
	_, ok := s.files[id]
	delete(s.files, id)
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "File not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "File deleted successfully"})
}

func countPages(data []byte) int {
	if n := len(pageObject.FindAllIndex(data, -1)); n > 0 {
		return n
	}
	return 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
