package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/isoserve/isoserve/api/version"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": version.Get()})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Agent.Stats())
}

func (s *Server) handleWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": s.Agent.Workers()})
}
