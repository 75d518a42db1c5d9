package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ravi-kumar-24/distributed-search-frontend/internal/model"
)

const (
	TaskEndpoint   = "/task"
	StatusEndpoint = "/status"

	defaultMaxResults = 100
)

// Searcher is the part of Store the RPC server needs.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]model.DocumentStats, error)
}

// Server answers cluster search RPCs from the gateway.
type Server struct {
	searcher   Searcher
	maxResults int
	srv        *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

func NewServer(searcher Searcher, addr string, maxResults int, logger *zap.Logger) *Server {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		searcher:   searcher,
		maxResults: maxResults,
		logger:     logger,
	}
	s.srv = &http.Server{Addr: addr, Handler: s.routes()}
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(recoverer(s.logger))
	r.POST(TaskEndpoint, s.handleSearch)
	r.GET(StatusEndpoint, func(c *gin.Context) {
		c.String(http.StatusOK, "Server is alive\n")
	})
	return r
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.srv.Addr, err)
	}
	s.listener = ln
	s.logger.Info("search node listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("search node stopped", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleSearch(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	var req model.ClusterSearchRequest
	if err := req.Unmarshal(payload); err != nil {
		s.logger.Warn("malformed search request", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	docs, err := s.searcher.Search(c.Request.Context(), req.SearchQuery, s.maxResults)
	if err != nil {
		s.logger.Error("search failed", zap.String("query", req.SearchQuery), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	resp := model.ClusterSearchResponse{RelevantDocuments: docs}
	c.Data(http.StatusOK, "application/octet-stream", resp.Marshal())
}

// recoverer logs handler panics through zap and answers 500.
func recoverer(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, rvr any) {
		log.Error("panic recovered",
			zap.Any("panic", rvr),
			zap.String("path", c.Request.URL.Path),
			zap.Stack("stacktrace"),
		)
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
