package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger is any dependency able to report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckHandler probes the content source, the oracle and the lead store.
type CheckHandler struct {
	Source  Pinger
	Oracle  Pinger
	Store   Pinger
	Timeout time.Duration
}

func NewCheckHandler(source, oracle, store Pinger) *CheckHandler {
	return &CheckHandler{
		Source:  source,
		Oracle:  oracle,
		Store:   store,
		Timeout: 20 * time.Second,
	}
}

func (h *CheckHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// TestConnection reports which dependencies answered. It always returns 200.
func (h *CheckHandler) TestConnection(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.Timeout)
	defer cancel()

	failures := make([]string, 0)
	check := func(name string, target Pinger) bool {
		if target == nil {
			failures = append(failures, name+": not configured")
			return false
		}
		if err := target.Ping(ctx); err != nil {
			failures = append(failures, name+": "+err.Error())
			return false
		}
		return true
	}

	reddit := check("Reddit", h.Source)
	oracle := check("Oracle", h.Oracle)
	database := check("Database", h.Store)

	return c.JSON(fiber.Map{
		"reddit":   reddit,
		"oracle":   oracle,
		"database": database,
		"errors":   failures,
	})
}
