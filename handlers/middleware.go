package handlers

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/anatech/leadscout/services"
	"github.com/anatech/leadscout/shared"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sirupsen/logrus"
)

const userIDLocal = "user_id"

// BearerToken extracts the session token from the Authorization header.
func BearerToken(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// RequireAuth rejects requests without a valid session before any handler work runs.
// A session store failure is reported as such, not as a missing login.
func RequireAuth(sessions services.SessionStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := sessions.Validate(c.UserContext(), BearerToken(c))
		if err != nil {
			if !errors.Is(err, shared.ErrUnauthenticated) {
				return ErrorResponse(c, err)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "unauthenticated",
				"message": "Please login first",
			})
		}
		c.Locals(userIDLocal, userID)
		return c.Next()
	}
}

// AdminKeyHeader carries the shared secret for admin routes.
const AdminKeyHeader = "X-Admin-Key"

// RequireAdminKey admits requests whose admin header matches key.
func RequireAdminKey(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		provided := c.Get(AdminKeyHeader)
		if key == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"error":   "forbidden",
				"message": "Admin key required",
			})
		}
		return c.Next()
	}
}

// UserID returns the user resolved by RequireAuth.
func UserID(c *fiber.Ctx) string {
	userID, _ := c.Locals(userIDLocal).(string)
	return userID
}

// StatusFor maps an error category onto an HTTP status code.
func StatusFor(err error) int {
	switch shared.CategoryOf(err) {
	case shared.ErrorCategoryAuthentication:
		return fiber.StatusUnauthorized
	case shared.ErrorCategoryValidation:
		return fiber.StatusBadRequest
	case shared.ErrorCategoryOracle, shared.ErrorCategorySource:
		return fiber.StatusBadGateway
	case shared.ErrorCategoryNotFound:
		return fiber.StatusNotFound
	case shared.ErrorCategoryQuota:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorResponse writes the uniform failure body for err.
func ErrorResponse(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	category := shared.CategoryOf(err)
	message := shared.UserMessage(err)
	if status >= fiber.StatusInternalServerError {
		fields := logrus.Fields{"component": "API", "path": c.Path()}
		var serviceErr *shared.ServiceError
		if errors.As(err, &serviceErr) {
			serviceErr.LogError(fields)
		} else {
			fields["error"] = err.Error()
			logrus.WithFields(fields).Error("Request failed")
		}
	}
	if category == shared.ErrorCategoryDatabase {
		message = "Storage is temporarily unavailable"
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   string(category),
		"message": message,
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   string(shared.ErrorCategoryValidation),
		"message": message,
	})
}

// FallbackErrorHandler renders errors that escape a handler, including
// fiber's own routing errors, in the uniform failure body.
func FallbackErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"success": false,
			"error":   strings.ToLower(strings.ReplaceAll(utils.StatusMessage(fe.Code), " ", "_")),
			"message": fe.Message,
		})
	}
	return ErrorResponse(c, err)
}
