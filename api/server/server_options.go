package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/isoserve/isoserve/api/common"
	"github.com/isoserve/isoserve/api/id"
	"github.com/sirupsen/logrus"
)

// Option is a func that allows configuring a Server
type Option func(context.Context, *Server) error

// RIDProvider generates request IDs from incoming requests.
type RIDProvider struct {
	// HeaderName is the incoming header carrying a caller-chosen request id
	HeaderName string
	// RIDGenerator produces the id, receiving the header value if any
	RIDGenerator func(string) string
}

// WithRIDProvider generates a request id for each http request using the
// given generator.
func WithRIDProvider(ridProvider *RIDProvider) Option {
	return func(ctx context.Context, s *Server) error {
		s.Router.Use(withRIDProvider(ridProvider))
		return nil
	}
}

// DefaultRIDProvider honors an inbound X-Request-Id, minting a fresh id
// otherwise.
func DefaultRIDProvider() *RIDProvider {
	return &RIDProvider{
		HeaderName: "X-Request-Id",
		RIDGenerator: func(in string) string {
			if in != "" {
				return in
			}
			return id.New().String()
		},
	}
}

func withRIDProvider(ridp *RIDProvider) func(c *gin.Context) {
	return func(c *gin.Context) {
		rid := ridp.RIDGenerator(c.Request.Header.Get(ridp.HeaderName))
		ctx := common.WithRequestID(c.Request.Context(), rid)
		// set the rid on the common logger so it is always logged from here on
		l := common.Logger(ctx).WithFields(logrus.Fields{common.RequestIDContextKey: rid})
		ctx = common.WithLogger(ctx, l)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// EnableShutdownEndpoint adds /shutdown to initiate a shutdown of the server.
func EnableShutdownEndpoint(ctx context.Context, halt context.CancelFunc) Option {
	return func(ctx context.Context, s *Server) error {
		s.Router.GET("/shutdown", s.handleShutdown(halt))
		return nil
	}
}

func (s *Server) handleShutdown(halt context.CancelFunc) func(*gin.Context) {
	return func(c *gin.Context) {
		halt()
		c.JSON(http.StatusOK, "shutting down")
	}
}

// LimitRequestBody wraps every http request to limit its size to the
// specified max bytes.
func LimitRequestBody(max int64) Option {
	return func(ctx context.Context, s *Server) error {
		if max > 0 {
			s.Router.Use(limitRequestBody(max))
		}
		return nil
	}
}

func limitRequestBody(max int64) func(c *gin.Context) {
	return func(c *gin.Context) {
		cl := int64(c.Request.ContentLength)
		if cl > max {
			// deny this quickly instead of letting it get lopped off
			handleErrorResponse(c, errTooBig{cl, max})
			c.Abort()
			return
		}

		// if no Content-Length specified, limit how many bytes we read and
		// error if we hit the max, see http.MaxBytesReader
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}

// models.APIError
type errTooBig struct {
	n, max int64
}

func (e errTooBig) Code() int { return http.StatusRequestEntityTooLarge }
func (e errTooBig) Error() string {
	return fmt.Sprintf("Content-Length too large for this server, %d > max %d", e.n, e.max)
}
