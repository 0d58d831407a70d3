// Package admin serves a small HTTP surface for inspecting and steering a
// running cache engine: health, stats, entries and invalidation.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/cache"
	"github.com/KOMKZ/habitcache/health"
	"github.com/KOMKZ/habitcache/logger"
)

// Server owns the gin router and, once started, the listener.
type Server struct {
	cfg    Config
	engine *cache.Engine
	health *health.Aggregator
	log    *logger.CtxZapLogger
	router *gin.Engine

	mu   sync.Mutex
	srv  *http.Server
	addr string
	done chan struct{}
}

// NewServer builds the router. agg may be nil, in which case /healthz only
// reports the engine.
func NewServer(cfg Config, e *cache.Engine, agg *health.Aggregator, log *logger.CtxZapLogger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrConfigInvalid.WithMsgf("admin server needs an engine")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if agg == nil {
		agg = health.NewAggregator(cfg.HealthTimeout)
		agg.Register(cache.NewHealthChecker(e))
	}

	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	gin.DefaultWriter = logger.NewGinLogWriter(log)
	gin.DefaultErrorWriter = logger.NewGinLogWriter(log)

	s := &Server{cfg: cfg, engine: e, health: agg, log: log}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	if s.cfg.EnableTracing {
		r.Use(otelgin.Middleware(s.cfg.ServiceName))
	}
	r.Use(traceID(), requestLog(s.log, s.cfg.SkipLogPaths), recovery(s.log))
	r.NoRoute(noRouteHandler)
	r.NoMethod(noMethodHandler)

	r.GET("/healthz", s.healthz)
	r.GET("/stats", s.stats)
	r.GET("/entries", s.listEntries)
	r.GET("/entries/:key", s.getEntry)
	r.DELETE("/entries/:key", s.deleteEntry)
	r.DELETE("/entries", s.invalidate)
	r.POST("/sweep", s.sweep)
	if s.cfg.Swagger {
		s.docsRoutes(r)
	}
	return r
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on cfg.Addr and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.addr = ln.Addr().String()
	s.done = make(chan struct{})
	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin server stopped", zap.Error(err))
		}
	}(s.srv, s.done)
	s.log.InfoCtx(ctx, "admin server listening", zap.String("addr", s.addr))
	return nil
}

// Addr is the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

// Shutdown is Stop under the name DI containers look for.
func (s *Server) Shutdown(ctx context.Context) error { return s.Stop(ctx) }

func (s *Server) healthz(c *gin.Context) {
	resp := s.health.Check(c.Request.Context())
	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

type statsView struct {
	cache.Stats
	HitRatio float64 `json:"hit_ratio"`
}

func (s *Server) stats(c *gin.Context) {
	st := s.engine.Stats()
	okJSON(c, statsView{Stats: st, HitRatio: st.HitRatio()})
}

func (s *Server) listEntries(c *gin.Context) {
	keys := s.engine.Keys(c.Request.Context())
	if keys == nil {
		keys = []string{}
	}
	okJSON(c, gin.H{"keys": keys, "count": len(keys)})
}

type entryView struct {
	cache.Entry
	ExpiresAt  time.Time   `json:"expires_at"`
	Fresh      bool        `json:"fresh"`
	Optimistic string      `json:"optimistic"`
	Data       interface{} `json:"data"`
}

func (s *Server) getEntry(c *gin.Context) {
	ctx := c.Request.Context()
	k := cache.ParseKey(c.Param("key"))
	entry, ok := s.engine.Lookup(ctx, k)
	if !ok {
		handleError(c, s.log, ErrEntryNotFound.WithData("key", k.String()))
		return
	}
	view := entryView{
		Entry:      entry,
		ExpiresAt:  entry.ExpiresAt(),
		Fresh:      entry.Fresh(s.engine.Clock().Now()),
		Optimistic: s.engine.Ledger().State(k).String(),
		Data:       entry.Data,
	}
	// JSON payloads are shown inline, binary ones base64 encoded
	if s.engine.Serializer().Name() == cache.SerializerJSON && json.Valid(entry.Data) {
		view.Data = json.RawMessage(entry.Data)
	}
	okJSON(c, view)
}

func (s *Server) deleteEntry(c *gin.Context) {
	k := cache.ParseKey(c.Param("key"))
	if !s.engine.Remove(c.Request.Context(), k) {
		handleError(c, s.log, ErrEntryNotFound.WithData("key", k.String()))
		return
	}
	okJSON(c, gin.H{"removed": 1})
}

// invalidate accepts either ?pattern= (substring of the encoded key) or
// ?kind= with optional repeated &param= (structural match).
func (s *Server) invalidate(c *gin.Context) {
	ctx := c.Request.Context()
	pattern, kind := c.Query("pattern"), c.Query("kind")
	var n int
	switch {
	case pattern != "" && kind != "":
		handleError(c, s.log, ErrBadRequest.WithMsgf("pattern and kind are exclusive"))
		return
	case pattern != "":
		n = s.engine.Invalidate(ctx, pattern)
	case kind != "":
		params := c.QueryArray("param")
		args := make([]any, len(params))
		for i, p := range params {
			args[i] = p
		}
		n = s.engine.InvalidateMatching(ctx, cache.MatchKind(kind, args...))
	default:
		handleError(c, s.log, ErrBadRequest.WithMsgf("pattern or kind is required"))
		return
	}
	okJSON(c, gin.H{"removed": n})
}

func (s *Server) sweep(c *gin.Context) {
	okJSON(c, gin.H{"removed": s.engine.Sweep(c.Request.Context())})
}
