package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ravi-kumar-24/distributed-search-frontend/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// requireMethod drops the connection without a response unless the request
// uses method.
func requireMethod(method string, next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != method {
			logger.FromContext(c.Request.Context(), zap.NewNop()).Debug("closing connection on unexpected method",
				zap.String("method", c.Request.Method),
				zap.String("expected", method),
			)
			closeConnection(c)
			return
		}
		next(c)
	}
}

// limitWorkers holds a worker slot for as long as the rest of the chain runs.
// A request whose client goes away while waiting is dropped.
func limitWorkers(workers *semaphore.Weighted) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := workers.Acquire(c.Request.Context(), 1); err != nil {
			closeConnection(c)
			return
		}
		defer workers.Release(1)
		c.Next()
	}
}

// closeConnection aborts the exchange; net/http closes the connection and
// sends nothing.
func closeConnection(c *gin.Context) {
	c.Abort()
	panic(http.ErrAbortHandler)
}

// recoverer logs handler panics and drops the connection. http.ErrAbortHandler
// is passed through untouched.
func recoverer(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if err, ok := rvr.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rvr)
			}
			log.Error("panic recovered",
				zap.Any("panic", rvr),
				zap.String("path", c.Request.URL.Path),
				zap.Stack("stacktrace"),
			)
			panic(http.ErrAbortHandler)
		}()
		c.Next()
	}
}

// accessLog emits one line per completed request and hands the handlers a
// logger tagged with the request ID.
func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		reqLogger := log.With(zap.String("request_id", requestID))
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), reqLogger))

		c.Next()

		reqLogger.Info("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.Int("response_bytes", c.Writer.Size()),
		)
	}
}
