package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRigCore/internal/machine"
	"github.com/KevinKickass/OpenRigCore/internal/types"
)

// POST /api/v1/rig/command
func (s *Server) executeRigCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("RIG_400", "Invalid request body", err.Error()))
		return
	}

	cmd := machine.Command(req.Command)

	if err := s.lm.Controller().ExecuteCommand(c.Request.Context(), cmd); err != nil {
		s.logger.Warn("Rig command failed",
			zap.String("command", req.Command),
			zap.Error(err))
		c.JSON(http.StatusConflict, types.NewErrorResponse("RIG_409", "Command execution failed", err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Command accepted",
		"command": req.Command,
	})
}
