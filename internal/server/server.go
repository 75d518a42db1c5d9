package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/semaphore"

	"github.com/ravi-kumar-24/distributed-search-frontend/internal/logger"
)

const (
	StatusEndpoint   = "/status"
	HomePageEndpoint = "/"

	statusMessage = "Server is alive\n"
)

// TaskHandler serves the POST body of its endpoint and returns the bytes to
// write back. It owns its error policy: whatever it returns goes out with 200.
type TaskHandler interface {
	Endpoint() string
	HandleRequest(ctx context.Context, payload []byte) []byte
}

type Config struct {
	Addr string
	// Workers caps the requests being handled at once. Extra requests wait
	// for a free worker.
	Workers int
	// MaxConnections caps open connections, idle ones included. Extra
	// connections wait in the listen backlog.
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration

	Assets        fs.FS
	AssetsBaseDir string
	EntryDocument string
}

// WebServer is the public HTTP front door: liveness, bundled UI and the
// task endpoints.
type WebServer struct {
	cfg      Config
	handlers map[string]TaskHandler
	prefixes []prefixRoute
	workers  *semaphore.Weighted
	engine   *gin.Engine
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

func NewWebServer(cfg Config, logger *zap.Logger, handlers ...TaskHandler) (*WebServer, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.MaxConnections < cfg.Workers {
		cfg.MaxConnections = max(1024, cfg.Workers)
	}
	if cfg.EntryDocument == "" {
		cfg.EntryDocument = "index.html"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &WebServer{
		cfg:      cfg,
		handlers: make(map[string]TaskHandler, len(handlers)),
		workers:  semaphore.NewWeighted(int64(cfg.Workers)),
		logger:   logger,
	}
	for _, h := range handlers {
		endpoint := h.Endpoint()
		if endpoint == StatusEndpoint || endpoint == HomePageEndpoint || !strings.HasPrefix(endpoint, "/") {
			return nil, fmt.Errorf("invalid task endpoint %q", endpoint)
		}
		if _, ok := s.handlers[endpoint]; ok {
			return nil, fmt.Errorf("duplicate task endpoint %q", endpoint)
		}
		s.handlers[endpoint] = h
	}

	s.engine = s.routes()
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// prefixRoute serves every path that starts with prefix and has no exact
// route of its own.
type prefixRoute struct {
	prefix  string
	handler gin.HandlerFunc
}

func (s *WebServer) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(recoverer(s.logger), accessLog(s.logger), limitWorkers(s.workers))

	status := requireMethod(http.MethodGet, s.handleStatusCheckRequest)
	r.Any(StatusEndpoint, status)
	s.prefixes = append(s.prefixes[:0], prefixRoute{StatusEndpoint, status})

	for endpoint, h := range s.handlers {
		task := requireMethod(http.MethodPost, s.handleTaskRequest(h))
		r.Any(endpoint, task)
		s.prefixes = append(s.prefixes, prefixRoute{endpoint, task})
	}
	sort.Slice(s.prefixes, func(i, j int) bool {
		return len(s.prefixes[i].prefix) > len(s.prefixes[j].prefix)
	})

	r.NoRoute(s.dispatchByPrefix(requireMethod(http.MethodGet, s.handleHomePageRequest)))
	return r
}

// dispatchByPrefix hands the request to the longest matching prefix route,
// or to fallback when none matches.
func (s *WebServer) dispatchByPrefix(fallback gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		for _, route := range s.prefixes {
			if strings.HasPrefix(p, route.prefix) {
				route.handler(c)
				return
			}
		}
		fallback(c)
	}
}

// Handler exposes the router, mostly for tests.
func (s *WebServer) Handler() http.Handler {
	return s.engine
}

// Start binds the listening socket and serves in the background. A bind
// failure is returned before anything is served.
func (s *WebServer) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Addr, err)
	}
	s.listener = netutil.LimitListener(ln, s.cfg.MaxConnections)
	s.logger.Info("web server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("workers", s.cfg.Workers),
		zap.Int("max_connections", s.cfg.MaxConnections),
	)

	go func() {
		if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr is only meaningful after Start.
func (s *WebServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *WebServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *WebServer) handleStatusCheckRequest(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(statusMessage))
}

func (s *WebServer) handleTaskRequest(h TaskHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.FromContext(c.Request.Context(), s.logger).Warn("failed to read request body", zap.Error(err))
			closeConnection(c)
			return
		}

		response := h.HandleRequest(c.Request.Context(), payload)
		sendResponse(c, "", response)
	}
}

func (s *WebServer) handleHomePageRequest(c *gin.Context) {
	asset := c.Request.URL.Path

	var response []byte
	if asset == HomePageEndpoint {
		response = s.readUiAsset(path.Join(s.cfg.AssetsBaseDir, s.cfg.EntryDocument))
	} else {
		response = s.readUiAsset(asset)
	}
	sendResponse(c, contentTypeFor(asset), response)
}

// readUiAsset resolves name against the bundle root. Anything missing or
// outside the bundle reads as empty.
func (s *WebServer) readUiAsset(name string) []byte {
	name = strings.TrimPrefix(name, "/")
	if s.cfg.Assets == nil || !fs.ValidPath(name) {
		return []byte{}
	}
	data, err := fs.ReadFile(s.cfg.Assets, name)
	if err != nil {
		return []byte{}
	}
	return data
}

func contentTypeFor(asset string) string {
	switch {
	case strings.HasSuffix(asset, ".js"):
		return "text/javascript"
	case strings.HasSuffix(asset, ".css"):
		return "text/css"
	default:
		return "text/html"
	}
}

func sendResponse(c *gin.Context, contentType string, body []byte) {
	if contentType != "" {
		c.Header("Content-Type", contentType)
	}
	c.Status(http.StatusOK)
	if _, err := c.Writer.Write(body); err != nil {
		logger.FromContext(c.Request.Context(), zap.NewNop()).Debug("failed to write response", zap.Error(err))
	}
}
