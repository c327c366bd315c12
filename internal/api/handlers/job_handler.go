package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/maheshrc27/gramflow/internal/models"
	"github.com/maheshrc27/gramflow/internal/repository"
	"github.com/maheshrc27/gramflow/internal/service"
	"github.com/maheshrc27/gramflow/internal/transfer"
)

const maxListLimit = 200

type JobHandler struct {
	s service.JobService
}

func NewJobHandler(service service.JobService) *JobHandler {
	return &JobHandler{s: service}
}

func (h *JobHandler) SubmitJob(c *fiber.Ctx) error {
	var req transfer.SubmitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Unable to parse request body")
	}

	resp, err := h.s.SubmitJob(c.UserContext(), GetAccount(c), &req)
	if errors.Is(err, service.ErrNotScheduled) && resp != nil {
		slog.Error("job not scheduled", "job_id", resp.JobID, "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":  "job saved but not scheduled, retrigger it",
			"job_id": resp.JobID,
		})
	}
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	jobs, err := h.s.ListJobs(c.UserContext(), GetAccount(c), repository.JobFilter{
		Status: models.JobStatus(c.Query("status")),
		Limit:  limit,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(jobs)
}

func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	snapshot, err := h.s.GetJobStatus(c.UserContext(), GetAccount(c), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(snapshot)
}

func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	if err := h.s.CancelJob(c.UserContext(), GetAccount(c), id); err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Cancel requested",
	})
}

type retriggerRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (h *JobHandler) RetriggerJob(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	var req retriggerRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Unable to parse request body")
		}
	}

	resp, err := h.s.Retrigger(c.UserContext(), GetAccount(c), id, req.ScheduledAt)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

type abandonRequest struct {
	Detail string `json:"detail"`
}

func (h *JobHandler) AbandonJob(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	var req abandonRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Unable to parse request body")
		}
	}

	if err := h.s.Abandon(c.UserContext(), GetAccount(c), id, req.Detail); err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Job marked as failed",
	})
}

func (h *JobHandler) ListTriggers(c *fiber.Ctx) error {
	triggers, err := h.s.ListTriggers(c.UserContext(), GetAccount(c))
	if err != nil {
		return errorResponse(c, err)
	}
	if triggers == nil {
		triggers = []*models.ScheduledTrigger{}
	}
	return c.Status(fiber.StatusOK).JSON(triggers)
}
