// Package control exposes remote command sources for the snapshot pipeline:
// an HTTP surface (gin) and an MQTT control topic (paho).
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/e7canasta/orion-care-sensor/modules/snapshot"
)

// Dispatcher interprets one command line (see snapshot.CommandSource)
type Dispatcher interface {
	Dispatch(line string) bool
}

// StatusProvider reports pipeline state for health checks
type StatusProvider interface {
	Stats() snapshot.Stats
	OutputPath() string
}

// HTTPServer serves the control endpoints:
//
//	POST /capture   arm the capture gate
//	GET  /snapshot  the most recent snapshot (404 until one exists)
//	GET  /healthz   pipeline state and counters
//	GET  /metrics   Prometheus metrics (when a handler is configured)
type HTTPServer struct {
	addr   string
	engine *gin.Engine
	srv    *http.Server
	log    *slog.Logger
}

// NewHTTPServer builds the router. metrics may be nil.
func NewHTTPServer(addr string, cmds Dispatcher, status StatusProvider, metrics http.Handler, log *slog.Logger) *HTTPServer {
	if log == nil {
		log = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	h := &handlers{cmds: cmds, status: status, log: log}
	engine.POST("/capture", h.capture)
	engine.GET("/snapshot", h.snapshot)
	engine.GET("/healthz", h.health)
	if metrics != nil {
		engine.GET("/metrics", gin.WrapH(metrics))
	}

	return &HTTPServer{
		addr:   addr,
		engine: engine,
		srv: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Handler returns the underlying http.Handler
func (s *HTTPServer) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control: http listening", "addr", s.addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control: http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control: http shutdown: %w", err)
	}
	s.log.Info("control: http stopped")
	return nil
}

type handlers struct {
	cmds   Dispatcher
	status StatusProvider
	log    *slog.Logger
}

func (h *handlers) capture(c *gin.Context) {
	h.cmds.Dispatch(string(snapshot.CaptureCommand))
	c.JSON(http.StatusAccepted, gin.H{
		"status": "armed",
		"output": h.status.OutputPath(),
	})
}

func (h *handlers) snapshot(c *gin.Context) {
	path := h.status.OutputPath()
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot captured yet"})
		return
	}
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.File(path)
}

func (h *handlers) health(c *gin.Context) {
	st := h.status.Stats()

	code := http.StatusOK
	if st.State != snapshot.StatePlaying {
		code = http.StatusServiceUnavailable
	}

	var lastCapture string
	if !st.LastCaptureAt.IsZero() {
		lastCapture = st.LastCaptureAt.UTC().Format(time.RFC3339)
	}

	c.JSON(code, gin.H{
		"state":            st.State.String(),
		"uptime_s":         st.Uptime.Seconds(),
		"armed":            st.Armed,
		"frames_routed":    st.FramesRouted,
		"display_rendered": st.DisplayRendered,
		"display_dropped":  st.DisplayDropped,
		"render_errors":    st.RenderErrors,
		"capture_seen":     st.CaptureSeen,
		"capture_dropped":  st.CaptureDropped,
		"captures":         st.Captures,
		"capture_errors":   st.CaptureErrors,
		"last_capture_at":  lastCapture,
	})
}
