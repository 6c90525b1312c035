// Package transport connects a remote body to a running core over a
// websocket. The body streams sensor bundles and utterances in as JSON
// frames; the server streams speech and actuator commands back.
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"alia/internal/config"
	"alia/internal/core"
	"alia/internal/host"
	"alia/internal/logging"
)

// Server serves /ws, /say, /status and /metrics for one runner.
type Server struct {
	r           *host.Runner
	engine      *gin.Engine
	addr        string
	readTimeout time.Duration
	push        time.Duration
	stopTimeout time.Duration

	mu   sync.Mutex
	body bool // a body is connected

	wmu sync.Mutex // one writer per socket
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewServer builds the routes. gatherer may be nil to omit /metrics.
func NewServer(r *host.Runner, cfg *config.Config, gatherer prometheus.Gatherer) *Server {
	if cfg.Transport.GinMode != "" {
		gin.SetMode(cfg.Transport.GinMode)
	}
	s := &Server{
		r:           r,
		engine:      gin.New(),
		addr:        cfg.Transport.Listen,
		readTimeout: cfg.GetReadTimeout(),
		push:        cfg.Core.SensePeriod(),
		stopTimeout: cfg.GetStopTimeout(),
	}
	s.engine.Use(gin.Recovery())
	s.engine.GET("/ws", s.handleBody)
	s.engine.POST("/say", s.handleSay)
	s.engine.GET("/status", s.handleStatus)
	if gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}
	logging.Transport("listening on %s", ln.Addr())
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// =============================================================================
// HANDLERS
// =============================================================================

type sayRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleSay(c *gin.Context) {
	var req sayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.r.Say(req.Text)
	c.JSON(http.StatusAccepted, gin.H{"queued": req.Text})
}

// Status is the /status response.
type Status struct {
	Session  string     `json:"session,omitempty"`
	Code     int        `json:"code"`
	Ready    bool       `json:"ready"`
	Body     bool       `json:"body"`
	Stats    core.Stats `json:"stats"`
	Commands int        `json:"commands"`
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.Lock()
	connected := s.body
	s.mu.Unlock()
	code := s.r.Code()
	c.JSON(http.StatusOK, Status{
		Session:  s.r.Session(),
		Code:     code,
		Ready:    code == core.CodeOK,
		Body:     connected,
		Stats:    s.r.Stats(),
		Commands: len(s.r.Commands()),
	})
}

func (s *Server) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.body {
		return false
	}
	s.body = true
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.body = false
	s.mu.Unlock()
}
