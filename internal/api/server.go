// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/imrandevofficial/openapi-servers/internal/config"
	"github.com/imrandevofficial/openapi-servers/internal/confirm"
	"github.com/imrandevofficial/openapi-servers/internal/events"
	"github.com/imrandevofficial/openapi-servers/internal/logging"
	"github.com/imrandevofficial/openapi-servers/internal/metrics"
	"github.com/imrandevofficial/openapi-servers/internal/roots"
	"github.com/imrandevofficial/openapi-servers/internal/walker"
	"github.com/imrandevofficial/openapi-servers/pkg/protocol"
)

// Server is the HTTP server.
type Server struct {
	guard       *roots.Guard
	store       confirm.Store
	walker      *walker.Walker
	broadcaster *events.Broadcaster
	config      *config.Config
}

// NewServer creates a new server.
func NewServer(guard *roots.Guard, store confirm.Store, broadcaster *events.Broadcaster, cfg *config.Config) *Server {
	return &Server{
		guard:       guard,
		store:       store,
		walker:      walker.New(guard),
		broadcaster: broadcaster,
		config:      cfg,
	}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /list_allowed_directories", s.handleListAllowedDirectories)
	mux.HandleFunc("GET /events", s.handleEvents)

	mux.HandleFunc("POST /read_file", s.handleReadFile)
	mux.HandleFunc("POST /write_file", s.handleWriteFile)
	mux.HandleFunc("POST /edit_file", s.handleEditFile)
	mux.HandleFunc("POST /create_directory", s.handleCreateDirectory)
	mux.HandleFunc("POST /list_directory", s.handleListDirectory)
	mux.HandleFunc("POST /directory_tree", s.handleDirectoryTree)
	mux.HandleFunc("POST /search_files", s.handleSearchFiles)
	mux.HandleFunc("POST /search_content", s.handleSearchContent)
	mux.HandleFunc("POST /delete_path", s.handleDeletePath)
	mux.HandleFunc("POST /move_path", s.handleMovePath)
	mux.HandleFunc("POST /get_metadata", s.handleGetMetadata)

	handler := metrics.Middleware(logging.Middleware(mux))
	if s.config == nil || s.config.CORSEnabled {
		handler = corsMiddleware(handler)
	}
	return handler
}

// corsMiddleware applies the permissive CORS policy of the original
// service: any origin, any method, any header.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, protocol.HealthResponse{Status: "ok"})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, protocol.CodeIOFailure, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// publishEvent publishes an event to the broadcaster if available.
func (s *Server) publishEvent(eventType, path, destination string) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.Event{
		Type:        eventType,
		Path:        path,
		Destination: destination,
	})
}

// ─── Response helpers ───────────────────────────────────────────────────────

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	s.sendJSON(w, status, protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// ok sends a success payload and records the operation outcome.
func (s *Server) ok(w http.ResponseWriter, op string, v any) {
	metrics.RecordOperation(op, true)
	s.sendJSON(w, http.StatusOK, v)
}

// fail sends an error payload and records the operation outcome.
func (s *Server) fail(w http.ResponseWriter, op string, status int, code, message string) {
	metrics.RecordOperation(op, false)
	s.sendError(w, status, code, message)
}

// accessDenied reports a guard rejection, disclosing the allowed roots so
// callers can correct their request.
func (s *Server) accessDenied(w http.ResponseWriter, op string, err error) {
	var denied *roots.AccessDeniedError
	if errors.As(err, &denied) {
		metrics.RecordAccessDenied()
		metrics.RecordOperation(op, false)
		s.sendJSON(w, http.StatusForbidden, protocol.ErrorResponse{
			Error: denied.Error(),
			Code:  protocol.CodeAccessDenied,
			Details: protocol.AccessDeniedDetails{
				RequestedPath:      denied.Requested,
				AllowedDirectories: denied.Roots,
			},
		})
		return
	}
	s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure, err.Error())
}
