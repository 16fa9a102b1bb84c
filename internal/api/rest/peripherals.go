package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRigCore/internal/types"
)

// GET /api/v1/peripherals
func (s *Server) listPeripherals(c *gin.Context) {
	ps := s.lm.Peripherals().Peripherals()

	response := make([]gin.H, 0, len(ps))
	for _, p := range ps {
		response = append(response, gin.H{
			"name":      p.Name(),
			"kind":      p.Kind(),
			"registers": p.Registers(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"peripherals": response,
		"count":       len(response),
	})
}

// GET /api/v1/peripherals/:name/reading
func (s *Server) readPeripheral(c *gin.Context) {
	name := c.Param("name")

	r, err := s.lm.Peripherals().Read(c.Request.Context(), s.lm.IO(), name)
	if err != nil {
		s.peripheralError(c, name, "Read failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":  r.Source,
		"kind":  r.Kind,
		"value": r.Value,
	})
}

// POST /api/v1/peripherals/:name/valve
func (s *Server) setValve(c *gin.Context) {
	name := c.Param("name")

	var req struct {
		Open *bool `json:"open" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PERIPHERAL_400", "Invalid request body", err.Error()))
		return
	}

	set, io := s.lm.Peripherals(), s.lm.IO()
	err := set.Exclusive(func() error {
		return set.SetValve(c.Request.Context(), io, name, *req.Open)
	})
	if err != nil {
		s.peripheralError(c, name, "Valve command failed", err)
		return
	}

	s.logger.Info("Valve commanded",
		zap.String("valve", name),
		zap.Bool("open", *req.Open))

	c.JSON(http.StatusOK, gin.H{
		"name": name,
		"open": *req.Open,
	})
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000

	mainValveTimeout = time.Minute
)

// GET /api/v1/peripherals/:name/history?limit=N
func (s *Server) peripheralHistory(c *gin.Context) {
	name := c.Param("name")
	if _, ok := s.lm.Peripherals().Get(name); !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("PERIPHERAL_404", "Peripheral not found", name))
		return
	}

	history := s.lm.History()
	if history == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("STORAGE_503", "Reading history is not configured", nil))
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("PERIPHERAL_400", "Invalid limit", raw))
			return
		}
		limit = n
	}

	readings, err := history.RecentReadings(c.Request.Context(), name, limit)
	if err != nil {
		s.logger.Error("Failed to load reading history", zap.String("peripheral", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("STORAGE_500", "Failed to load reading history", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":     name,
		"readings": readings,
		"count":    len(readings),
	})
}

// POST /api/v1/rig/main-valve
func (s *Server) moveMainValve(c *gin.Context) {
	var req struct {
		Angle *float64 `json:"angle" binding:"required"`
		Power *float64 `json:"power" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PERIPHERAL_400", "Invalid request body", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), mainValveTimeout)
	defer cancel()

	set, io := s.lm.Peripherals(), s.lm.IO()
	poll := s.lm.Config().Sequence.PollInterval
	err := set.Exclusive(func() error {
		return set.MoveMainValve(ctx, io, *req.Angle, *req.Power, poll)
	})
	if err != nil {
		s.peripheralError(c, set.Roles().MainDrive, "Main valve move failed", err)
		return
	}

	s.logger.Info("Main valve moved",
		zap.Float64("angle", *req.Angle),
		zap.Float64("power", *req.Power))

	c.JSON(http.StatusOK, gin.H{
		"name":  set.Roles().MainDrive,
		"angle": *req.Angle,
	})
}

func (s *Server) peripheralError(c *gin.Context, name, message string, err error) {
	var ioErr *types.IOError
	switch {
	case errors.Is(err, types.ErrNotConfigured):
		c.JSON(http.StatusNotFound, types.NewErrorResponse("PERIPHERAL_404", "Peripheral not found", err.Error()))
	case errors.Is(err, types.ErrInvalidArgument), types.IsConfigurationError(err):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PERIPHERAL_400", message, err.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn(message, zap.String("peripheral", name), zap.Error(err))
		c.JSON(http.StatusGatewayTimeout, types.NewErrorResponse("PERIPHERAL_504", message, err.Error()))
	case errors.As(err, &ioErr):
		s.logger.Warn(message, zap.String("peripheral", name), zap.Error(err))
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("PERIPHERAL_502", message, err.Error()))
	default:
		s.logger.Error(message, zap.String("peripheral", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("PERIPHERAL_500", message, err.Error()))
	}
}
