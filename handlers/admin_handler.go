package handlers

import (
	"time"

	"github.com/anatech/leadscout/jobs"
	"github.com/anatech/leadscout/services"
	"github.com/anatech/leadscout/shared"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// AdminHandler exposes maintenance operations behind the admin key.
type AdminHandler struct {
	Cleanup *jobs.CleanupJob
	Results *services.ResultCache
	Gate    *shared.HTTPRequestRateLimiter
}

// Bounds for the Content Source spacing; the gate never admits more than one request per second.
const (
	minSourceDelay = time.Second
	maxSourceDelay = time.Minute
)

func NewAdminHandler(cleanup *jobs.CleanupJob, results *services.ResultCache, gate *shared.HTTPRequestRateLimiter) *AdminHandler {
	return &AdminHandler{
		Cleanup: cleanup,
		Results: results,
		Gate:    gate,
	}
}

// TriggerCleanup runs the cleanup job immediately.
func (h *AdminHandler) TriggerCleanup(c *fiber.Ctx) error {
	logrus.WithField("component", "AdminHandler").Info("Manual cleanup triggered via admin endpoint")

	startTime := time.Now()
	report, skipped, err := h.Cleanup.RunOnce(c.UserContext())
	if err != nil {
		return ErrorResponse(c, err)
	}
	if skipped {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   "conflict",
			"message": "Cleanup is already running",
		})
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"message":   "Cleanup job completed",
		"report":    report,
		"duration":  time.Since(startTime).String(),
		"timestamp": time.Now(),
	})
}

// CacheStats reports how many users hold a cached fetch result.
func (h *AdminHandler) CacheStats(c *fiber.Ctx) error {
	size := 0
	if h.Results != nil {
		size = h.Results.Size()
	}
	response := fiber.Map{
		"success":         true,
		"cached_fetches":  size,
		"cleanup_running": h.Cleanup.IsRunning(),
	}
	if h.Gate != nil {
		response["source_requests"] = h.Gate.GetRequestCount()
		response["source_delay_ms"] = h.Gate.GetMinimumDelay().Milliseconds()
		if last := h.Gate.GetLastRequestTime(); !last.IsZero() {
			response["source_last_admission"] = last
		}
	}
	return c.JSON(response)
}

// UpdateSourceDelay changes the spacing of the Content Source pacing gate.
func (h *AdminHandler) UpdateSourceDelay(c *fiber.Ctx) error {
	var req struct {
		DelayMS int64 `json:"delay_ms"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	delay := time.Duration(req.DelayMS) * time.Millisecond
	if delay < minSourceDelay || delay > maxSourceDelay {
		return badRequest(c, "delay_ms must be between 1000 and 60000")
	}
	if h.Gate == nil {
		return ErrorResponse(c, shared.NewNotFoundError("AdminHandler", "UpdateSourceDelay", "No pacing gate configured"))
	}

	h.Gate.UpdateMinimumDelay(delay)
	logrus.WithFields(logrus.Fields{
		"component": "AdminHandler",
		"delay":     delay,
	}).Info("Content source delay updated via admin endpoint")

	return c.JSON(fiber.Map{
		"success":  true,
		"message":  "Source delay updated",
		"delay_ms": delay.Milliseconds(),
	})
}
