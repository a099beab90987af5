package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"time"

	"epaper/internal/config"
	"epaper/internal/frame"
	appLog "epaper/internal/log"
	"epaper/internal/refresh"
)

// Refresher is the part of the refresh service the HTTP API drives.
type Refresher interface {
	TryRunOnce(ctx context.Context) error
	Clear(ctx context.Context) error
	Status() refresh.Status
	Preview() *frame.Planes
}

// LinkState reports network link state for /api/status. Nil means link
// supervision is disabled.
type LinkState interface {
	Up() bool
	Connects() int
}

// Server provides the status and control API.
type Server struct {
	cfg     *config.Config
	refresh Refresher
	link    LinkState
	mux     *http.ServeMux
	started time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, r Refresher, link LinkState) *Server {
	s := &Server{
		cfg:     cfg,
		refresh: r,
		link:    link,
		mux:     http.NewServeMux(),
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="epaper", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve runs the server on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/clear", s.handleClear)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type linkResponse struct {
	Interface string `json:"interface"`
	Up        bool   `json:"up"`
	Connects  int    `json:"connects"`
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Uptime  string         `json:"uptime"`
	Width   int            `json:"width"`
	Height  int            `json:"height"`
	Refresh refresh.Status `json:"refresh"`
	Link    *linkResponse  `json:"link,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Width:   s.cfg.Panel.Width,
		Height:  s.cfg.Panel.Height,
		Refresh: s.refresh.Status(),
	}
	if s.link != nil {
		resp.Link = &linkResponse{
			Interface: s.cfg.Link.Interface,
			Up:        s.link.Up(),
			Connects:  s.link.Connects(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh runs one update synchronously. A concurrent update yields
// 409.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	appLog.Info("api refresh request", "remote", r.RemoteAddr)
	err := s.refresh.TryRunOnce(r.Context())
	switch {
	case errors.Is(err, refresh.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, s.refresh.Status())
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	appLog.Info("api clear request", "remote", r.RemoteAddr)
	if err := s.refresh.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePreview renders the planes last sent to the panel.
func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	p := s.refresh.Preview()
	if p == nil {
		writeError(w, http.StatusNotFound, "nothing displayed yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, p.Preview()); err != nil {
		appLog.Error("failed to write preview", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
