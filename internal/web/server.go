// Package web serves the chat UI and the HTTP API around the turn
// pipeline.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/guardedchat/gatehouse/internal/buildinfo"
	"github.com/guardedchat/gatehouse/internal/history"
	"github.com/guardedchat/gatehouse/internal/turn"
)

//go:embed static/*
var staticFiles embed.FS

// maxUploadBytes caps the whole request body, image included.
const maxUploadBytes = 8 << 20

// allowedExtensions gates image uploads by filename extension. A file
// outside the list is ignored, not fatal: the request falls back to
// text-only handling.
var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// TurnRunner processes one chat turn. Satisfied by *turn.Orchestrator.
type TurnRunner interface {
	Run(ctx context.Context, in turn.Input) (*turn.Result, error)
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP server.
type Server struct {
	address string
	port    int
	runner  TurnRunner
	history *history.Store
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates the HTTP server.
func NewServer(address string, port int, runner TurnRunner, hist *history.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		runner:  runner,
		history: hist,
		logger:  logger,
	}
}

// Handler builds the route table. Split out from Start so tests can
// drive it through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /clear_history", s.handleClearHistory)
	mux.HandleFunc("GET /get_history", s.handleGetHistory)
	mux.HandleFunc("GET /transcript", s.handleTranscript)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /", s.handleStatic)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting web server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if r.URL.Path == "/" || r.URL.Path == "" {
		r.URL.Path = "/index.html"
	}
	http.FileServer(http.FS(subFS)).ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// chatResponse is the success body for POST /chat.
type chatResponse struct {
	Response string          `json:"response"`
	History  []history.Entry `json:"history"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		// Plain form posts land here; FormValue still works for them.
		if !errors.Is(err, http.ErrNotMultipart) {
			s.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	in := turn.Input{Text: strings.TrimSpace(r.FormValue("text_input"))}

	if image, name, ok := s.readUpload(r); ok {
		in.Image = image
		in.ImageName = name
		in.ImageMIME = http.DetectContentType(image)
	}

	if in.Text == "" && len(in.Image) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "No text or image input provided.")
		return
	}

	res, err := s.runner.Run(r.Context(), in)
	if err != nil {
		if errors.Is(err, turn.ErrNoInput) {
			s.errorResponse(w, http.StatusBadRequest, "No text or image input provided.")
			return
		}
		// Detail stays in the log; the client gets an opaque error.
		s.logger.Error("turn failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, chatResponse{Response: res.Response, History: res.History}, s.logger)
}

// readUpload extracts an image upload, enforcing the extension
// allow-list. Disallowed or unreadable files are dropped with a log
// line so the request can still proceed on its text.
func (s *Server) readUpload(r *http.Request) (data []byte, name string, ok bool) {
	file, header, err := r.FormFile("image_file")
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) {
			s.logger.Debug("image upload unreadable", "error", err)
		}
		return nil, "", false
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		s.logger.Warn("rejecting upload with disallowed extension",
			"filename", header.Filename,
		)
		return nil, "", false
	}

	data, err = io.ReadAll(file)
	if err != nil || len(data) == 0 {
		s.logger.Warn("failed to read image upload", "error", err)
		return nil, "", false
	}
	return data, filepath.Base(header.Filename), true
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Clear(); err != nil {
		s.logger.Error("failed to clear history", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"message": "History cleared successfully."}, s.logger)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"history": s.history.All()}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}
