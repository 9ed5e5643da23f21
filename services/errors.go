package services

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Core failure taxonomy. InvalidTransition and QuotaExceeded are expected,
// recoverable outcomes; StorageFailure is surfaced as-is (the polling
// trigger retries on its next tick, the core never retries internally).
var (
	ErrUnauthenticated   = errors.New("no acting user")
	ErrForbidden         = errors.New("actor lacks rights over the target")
	ErrInvalidTransition = errors.New("state transition not permitted")
	ErrQuotaExceeded     = errors.New("daily skip quota exceeded")
	ErrStorageFailure    = errors.New("storage operation failed")
	ErrNotFound          = errors.New("record not found")
)

// storageErr tags an underlying DB error as a storage failure while
// keeping the cause in the chain.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageFailure, op, err)
}

// respondError maps a core error onto the HTTP surface.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrQuotaExceeded):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrStorageFailure):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage unavailable"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

// actingUser pulls the authenticated user id set by the user-context
// middleware; every mutating operation requires one.
func actingUser(c *fiber.Ctx) (string, error) {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}
