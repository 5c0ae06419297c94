package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/events"
	"github.com/mohammad-safakhou/researcher/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Manager *session.Manager
	Events  *events.Broadcaster
	// Journal is optional; without it the events history route answers 501.
	Journal  *events.Journal
	Registry *prometheus.Registry
}

type Server struct {
	cfg      config.ServerConfig
	echo     *echo.Echo
	manager  *session.Manager
	events   *events.Broadcaster
	journal  *events.Journal
	upgrader websocket.Upgrader
	requests *prometheus.CounterVec
	tracer   trace.Tracer
	log      *logrus.Entry

	connMu sync.Mutex
	conns  map[*websocket.Conn]struct{}
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	if cfg.WSWriteTimeout <= 0 {
		cfg.WSWriteTimeout = 10 * time.Second
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		cfg:     cfg,
		echo:    echo.New(),
		manager: deps.Manager,
		events:  deps.Events,
		journal: deps.Journal,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researcher",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		tracer: otel.Tracer("github.com/mohammad-safakhou/researcher/internal/server"),
		log:    logrus.WithField("component", "http"),
		conns:  make(map[*websocket.Conn]struct{}),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))
	e.Use(s.observe)

	health := func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   "researcher",
		})
	}
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/health", health)
	e.GET("/", s.root)
	registerArchitecture(e.Group("/api/architecture"))

	if deps.Registry != nil {
		deps.Registry.MustRegister(s.requests)
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	rh := &ResearchHandler{Manager: deps.Manager, Journal: deps.Journal}
	rh.Register(e.Group("/research"))
	rh.RegisterAliases(e.Group("/api/research"))
	e.GET("/ws/:id", s.serveWS)
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	addr := s.cfg.Address
	if addr == "" {
		addr = ":8000"
	}
	s.log.WithField("address", addr).Info("listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown closes open WebSocket connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = make(map[*websocket.Conn]struct{})
	s.connMu.Unlock()
	return s.echo.Shutdown(ctx)
}

func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Research briefing API",
		"endpoints": map[string]string{
			"create":       "POST /research",
			"list":         "GET /research",
			"status":       "GET /research/{id}/status",
			"approve":      "POST /research/{id}/approve",
			"briefing":     "GET /research/{id}/briefing",
			"events":       "GET /research/{id}/events",
			"websocket":    "/ws/{id}",
			"architecture": "/api/architecture",
		},
	})
}

// observe wraps every request in a span and counts it by route.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx, span := s.tracer.Start(req.Context(), req.Method+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.route", c.Path())))
		defer span.End()
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		code := c.Response().Status
		if err != nil {
			span.RecordError(err)
			code = statusOf(err)
		}
		s.requests.WithLabelValues(req.Method, c.Path(), strconv.Itoa(code)).Inc()
		return err
	}
}

// handleError renders every failure as {"error": msg}.
func (s *Server) handleError(err error, c echo.Context) {
	code := statusOf(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Message != nil {
		msg = fmt.Sprint(he.Message)
	}
	req := c.Request()
	entry := s.log.WithFields(logrus.Fields{
		"status": code,
		"method": req.Method,
		"path":   req.URL.Path,
		"remote": c.RealIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithError(err).Debug("request rejected")
	}
	if !c.Response().Committed {
		if req.Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, map[string]interface{}{"error": msg})
	}
}

func statusOf(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrNotReady):
		return http.StatusNotFound
	case errors.Is(err, session.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
