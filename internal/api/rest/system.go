package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/rig/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// POST /api/v1/selftest
func (s *Server) runSelfTest(c *gin.Context) {
	failures := s.lm.RunSelfTest(c.Request.Context())

	msgs := make([]string, len(failures))
	for i, err := range failures {
		msgs[i] = err.Error()
	}

	c.JSON(http.StatusOK, gin.H{
		"passed":   len(failures) == 0,
		"failures": msgs,
	})
}
