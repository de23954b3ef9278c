// Package preview serves the window catalog, on-demand window captures and
// finished recordings over HTTP.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"go2tv.app/screenrec/host"
	"go2tv.app/screenrec/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Backend is the part of host.Host the server calls.
type Backend interface {
	WindowsInfo(ctx context.Context, filter, wantCapture bool) ([]host.WindowInfo, host.Status, error)
	CaptureWindow(ctx context.Context, id uint32) ([]byte, host.Status, error)
	AppIcon(bundleID string) string
}

// Options configures a Server.
type Options struct {
	// RecordingsDir is served under /recordings/ when set.
	RecordingsDir string
	Logger        *slog.Logger
}

// Server is the preview HTTP server.
type Server struct {
	backend Backend
	router  *chi.Mux
	logger  *slog.Logger
}

func New(backend Backend, options *Options) *Server {
	var opts Options
	if options != nil {
		opts = *options
	}
	s := &Server{
		backend: backend,
		router:  chi.NewRouter(),
		logger:  logging.WithComponent(logging.OrDefault(opts.Logger), "preview"),
	}

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(s.logRequests)
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s.router.Get("/windows", s.listWindows)
	s.router.Get("/windows/{id}/capture.tiff", s.captureWindow)
	s.router.Get("/icons/{bundleID}", s.appIcon)
	if opts.RecordingsDir != "" {
		s.router.Mount("/recordings", http.StripPrefix("/recordings", NewRecordingsHandler(opts.RecordingsDir, s.logger)))
	}
	return s
}

// Router returns the handler for embedding in another server.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("preview server listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := statusOf(ww)
		level := slog.LevelDebug
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimiddleware.GetReqID(r.Context())))
	})
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

func (s *Server) listWindows(w http.ResponseWriter, r *http.Request) {
	infos, status, err := s.backend.WindowsInfo(r.Context(), queryBool(r, "filter"), queryBool(r, "capture"))
	if err != nil {
		writeError(w, status, err)
		return
	}
	if infos == nil {
		infos = []host.WindowInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) captureWindow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "invalid_id", Error: err.Error()})
		return
	}
	data, status, err := s.backend.CaptureWindow(r.Context(), uint32(id))
	if err != nil {
		writeError(w, status, err)
		return
	}
	w.Header().Set("Content-Type", "image/tiff")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *Server) appIcon(w http.ResponseWriter, r *http.Request) {
	p := s.backend.AppIcon(chi.URLParam(r, "bundleID"))
	if p == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, p)
}

type errorBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func httpStatus(status host.Status) int {
	switch status {
	case host.StatusTargetNotFound, host.StatusUnknownHandle:
		return http.StatusNotFound
	case host.StatusPermissionDenied:
		return http.StatusForbidden
	case host.StatusInvalidFrameData:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status host.Status, err error) {
	writeJSON(w, httpStatus(status), errorBody{Status: status.String(), Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
