package handlers

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/lib/pq"

	"github.com/maheshrc27/gramflow/internal/repository"
	"github.com/maheshrc27/gramflow/internal/scheduler"
	"github.com/maheshrc27/gramflow/internal/service"
)

// Locals key set by the auth middleware.
const LocalAccount = "account_id"

func GetAccount(c *fiber.Ctx) string {
	account, _ := c.Locals(LocalAccount).(string)
	return account
}

func HTTPStatusFromError(err error) int {
	if err == nil {
		return fiber.StatusOK
	}
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, scheduler.ErrNoTrigger) {
		return fiber.StatusNotFound
	}
	if errors.Is(err, service.ErrValidation) {
		return fiber.StatusBadRequest
	}
	if errors.Is(err, service.ErrUnsupportedMedia) {
		return fiber.StatusUnsupportedMediaType
	}
	if errors.Is(err, repository.ErrConflict) {
		return fiber.StatusConflict
	}
	if errors.Is(err, service.ErrForbidden) {
		return fiber.StatusForbidden
	}
	if errors.Is(err, service.ErrNotScheduled) {
		return fiber.StatusServiceUnavailable
	}
	if errors.Is(err, service.ErrCredentialExpired) {
		return fiber.StatusUnauthorized
	}
	if errors.Is(err, service.ErrPlatformRejected) {
		return fiber.StatusBadGateway
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

// errorResponse writes err with its mapped status. Internal errors are logged
// and replaced by a generic message.
func errorResponse(c *fiber.Ctx, err error) error {
	status := HTTPStatusFromError(err)
	msg := err.Error()
	if status >= fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		msg = "internal server error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

func paramID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid job id")
	}
	return id, nil
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}
