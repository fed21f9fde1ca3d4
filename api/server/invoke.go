package server

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/isoserve/isoserve/api/common"
	"github.com/isoserve/isoserve/api/id"
	"github.com/isoserve/isoserve/api/models"
)

// handleInvoke routes the incoming request to a worker and relays the
// worker's response. Every path out of here writes exactly one http
// response, the request's disposition channel is guaranteed to resolve so
// the wait below can never hang.
func (s *Server) handleInvoke(c *gin.Context) {
	ctx := c.Request.Context()

	if !s.webWg.AddSession() {
		handleErrorResponse(c, models.ErrServerShuttingDown)
		return
	}
	defer s.webWg.RmSession()

	rid := common.RequestIDFromContext(ctx)
	if rid == "" {
		rid = id.New().String()
	}

	conn := models.NewConnWatch()
	stop := context.AfterFunc(ctx, conn.MarkClosed)
	defer stop()

	req := models.NewRoutedRequest(rid, c.Request, conn)
	if err := s.Agent.Submit(ctx, req); err != nil {
		handleErrorResponse(c, err)
		return
	}

	d := <-req.Disposition()
	if d.Err != nil {
		handleErrorResponse(c, d.Err)
		return
	}

	writeResponse(c, d.Resp)
}

func writeResponse(c *gin.Context, resp *models.Response) {
	h := c.Writer.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = 200
	}
	c.Status(status)
	if len(resp.Body) > 0 {
		if _, err := c.Writer.Write(resp.Body); err != nil {
			common.Logger(c.Request.Context()).WithError(err).Error("error writing response body")
		}
	}
}
