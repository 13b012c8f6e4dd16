// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/ephemerai/internal/export"
	"github.com/jeranaias/ephemerai/internal/ingest"
	"github.com/jeranaias/ephemerai/internal/model"
)

// ============================================================================
// Configuration and Construction
// ============================================================================

const (
	// MaxChatBodyBytes caps a chat submission. Uploads ride along in the
	// multipart body, and single images up to ~50MB are accepted, so the
	// cap leaves room for a handful of them.
	MaxChatBodyBytes = 256 << 20

	// MaxBodyBytes caps every non-chat request body.
	MaxBodyBytes = 1 << 20

	healthProbeTimeout = 5 * time.Second
)

// ChatSession is the conversation engine behind the HTTP surface,
// satisfied by *session.Session.
type ChatSession interface {
	Submit(ctx context.Context, text string, uploads []ingest.Upload, onDelta func(string)) (*model.Turn, error)
	NewConversation()
	Conversation() *model.Conversation
	Advisories() []model.Advisory
}

// BackendHealth reports model-backend reachability, satisfied by
// *ollama.Inspector.
type BackendHealth interface {
	Healthy(ctx context.Context) bool
}

// ParserHealth reports document-parser reachability, satisfied by
// *tika.Parser.
type ParserHealth interface {
	CheckRunning(ctx context.Context) error
}

// Config contains server configuration.
type Config struct {
	// Port to listen on.
	Port int

	// SubmitPerMinute caps chat submissions with a token bucket.
	// Zero disables the limiter.
	SubmitPerMinute int

	// ModelName is reported by the health endpoint.
	ModelName string
}

// Server is the HTTP front end for one chat session.
type Server struct {
	cfg     Config
	session ChatSession
	exports *export.Cache
	backend BackendHealth
	parser  ParserHealth
	logger  *zap.Logger

	// limiter throttles chat submissions; nil means unlimited.
	limiter    *rate.Limiter
	httpServer *http.Server
}

// New creates a Server wired to its collaborators.
func New(cfg Config, sess ChatSession, exports *export.Cache,
	backend BackendHealth, parser ParserHealth, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		session: sess,
		exports: exports,
		backend: backend,
		parser:  parser,
		logger:  logger,
	}
	if cfg.SubmitPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.SubmitPerMinute)/60.0), cfg.SubmitPerMinute)
	}
	return s
}

// ============================================================================
// Routing and Lifecycle
// ============================================================================

// Handler builds the full HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		requireMethod(http.MethodGet, s.handleIndex)(w, r)
	})
	mux.HandleFunc("/api/chat", requireMethod(http.MethodPost, s.handleChat))
	mux.HandleFunc("/api/conversation/new", requireMethod(http.MethodPost, s.handleNewConversation))
	mux.HandleFunc("/api/export", requireMethod(http.MethodGet, s.handleExport))
	mux.HandleFunc("/healthz", requireMethod(http.MethodGet, s.handleHealth))

	chain := Chain(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
	)
	return chain(mux)
}

// requireMethod restricts a handler to one HTTP method (GET also admits
// HEAD), mirroring the method-pattern routing of http.ServeMux in newer
// Go releases for the Go 1.21 toolchain used to build this module.
func requireMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			w.Header().Set("Allow", method)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Handler(),

		// No WriteTimeout: SSE responses stay open for the length of a
		// model reply.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("server listening", zap.Int("port", s.cfg.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// ============================================================================
// Chat Endpoint (SSE)
// ============================================================================

// sseEvent is one frame of the chat stream.
type sseEvent struct {
	// Type is "delta", "done", or "error".
	Type string `json:"type"`

	// Content carries the text fragment for delta events and the final
	// reply text for done events.
	Content string `json:"content,omitempty"`

	// Advisories carries the status messages accumulated by the turn,
	// on the done event only.
	Advisories []model.Advisory `json:"advisories,omitempty"`
}

// handleChat accepts a multipart submission (a "message" field plus any
// number of "files" parts) and streams the assistant reply as
// server-sent events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "Too many submissions, slow down")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxChatBodyBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	message := r.FormValue("message")
	uploads, err := uploadsFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(message) == "" && len(uploads) == 0 {
		writeError(w, http.StatusBadRequest, "empty submission")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	reply, submitErr := s.session.Submit(r.Context(), message, uploads, func(delta string) {
		writeSSE(w, sseEvent{Type: "delta", Content: delta})
		flusher.Flush()
	})
	if submitErr != nil {
		// The session already folded a user-facing notice into the
		// conversation; the raw error is for the log.
		s.logger.Warn("submission failed", zap.Error(submitErr))
	}

	done := sseEvent{Type: "done", Advisories: s.session.Advisories()}
	if reply != nil {
		done.Content = reply.Text
	}
	writeSSE(w, done)
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// uploadsFromRequest reads every "files" part into memory.
func uploadsFromRequest(r *http.Request) ([]ingest.Upload, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	var uploads []ingest.Upload
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("cannot open upload %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("cannot read upload %s: %w", fh.Filename, err)
		}
		uploads = append(uploads, ingest.Upload{
			Filename: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}
	return uploads, nil
}

// writeSSE writes one JSON event frame.
func writeSSE(w http.ResponseWriter, event sseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// ============================================================================
// Conversation Management Endpoints
// ============================================================================

// handleNewConversation discards the conversation and every per-session
// cache, including cached exports.
func (s *Server) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	s.session.NewConversation()
	s.exports.Clear()

	writeJSON(w, http.StatusOK, map[string]string{
		"status":          "ok",
		"conversation_id": s.session.Conversation().ID,
	})
}

// handleExport streams the transcript as a download. The format query
// parameter selects markdown (default), html, or json.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := export.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatMarkdown
	}
	exp, err := export.New(format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := s.exports.Render(s.session.Conversation(), format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed: "+err.Error())
		return
	}

	filename := "conversation-" + time.Now().Format("20060102-150405") + exp.FileExtension()
	w.Header().Set("Content-Type", exp.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ============================================================================
// Health Endpoint
// ============================================================================

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Ollama bool   `json:"ollama"`
	Tika   bool   `json:"tika"`
}

// handleHealth reports backend reachability. Always 200: the front end
// itself is up, the payload says which collaborators are not.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	resp := healthResponse{
		Status: "ok",
		Model:  s.cfg.ModelName,
		Ollama: s.backend.Healthy(ctx),
		Tika:   s.parser.CheckRunning(ctx) == nil,
	}
	if !resp.Ollama || !resp.Tika {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// UI Endpoint
// ============================================================================

// handleIndex serves the embedded chat page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, chatPage)
}

// ============================================================================
// Response Helpers
// ============================================================================

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
