// internal/webhook/server.go
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/user/fancybot/internal/pipeline"
	"github.com/user/fancybot/internal/types"
)

// Status reports how long the bot has been up.
type Status interface {
	Started() time.Time
	Uptime() string
}

// SeenLookup answers last-seen queries.
type SeenLookup interface {
	Lookup(who string) (types.SeenRecord, bool)
}

// BuildTrigger queues a build for url. Reports go to the bot's configured
// report target; callers cannot choose the chat. It returns an error
// wrapping pipeline.ErrBusy when a build is already running.
type BuildTrigger func(url string) error

// Server is a lightweight HTTP handler for operational endpoints and the
// build webhook.
type Server struct {
	status Status
	seen   SeenLookup
	build  BuildTrigger
	token  string
	mux    *http.ServeMux
}

// NewServer creates a Server. When token is set, POST endpoints require
// "Authorization: Bearer <token>". A nil build disables the build webhook.
func NewServer(status Status, seen SeenLookup, build BuildTrigger, token string) *Server {
	s := &Server{
		status: status,
		seen:   seen,
		build:  build,
		token:  token,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/uptime", s.handleUptime)
	s.mux.HandleFunc("GET /api/seen/{nick}", s.handleSeen)
	s.mux.HandleFunc("POST /webhook/build", s.handleBuild)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("webhook server started", "listen", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		httpServer.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type uptimeResponse struct {
	Started string `json:"started"`
	Seconds int64  `json:"seconds"`
	Message string `json:"message"`
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	started := s.status.Started()
	writeJSON(w, uptimeResponse{
		Started: started.Format(time.RFC3339),
		Seconds: int64(time.Since(started).Seconds()),
		Message: s.status.Uptime(),
	})
}

func (s *Server) handleSeen(w http.ResponseWriter, r *http.Request) {
	nick := r.PathValue("nick")
	rec, ok := s.seen.Lookup(nick)
	if !ok {
		http.Error(w, `{"error":"not seen"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, rec)
}

// buildRequest is the JSON body for POST /webhook/build.
type buildRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if s.build == nil {
		http.Error(w, `{"error":"builds not configured"}`, http.StatusServiceUnavailable)
		return
	}

	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, `{"error":"url is required"}`, http.StatusBadRequest)
		return
	}

	err := s.build(req.URL)
	if errors.Is(err, pipeline.ErrBusy) {
		http.Error(w, `{"error":"build already running"}`, http.StatusConflict)
		return
	}
	if err != nil {
		slog.Error("webhook build trigger failed", "url", req.URL, "error", err)
		http.Error(w, `{"error":"build not queued"}`, http.StatusServiceUnavailable)
		return
	}

	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "queued", "url": req.URL})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}
