package handler

import (
	"errors"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/guntupalli09/videotools-sub000/internal/middleware"
	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/service"
	"github.com/guntupalli09/videotools-sub000/pkg/response"
)

type BatchHandler struct {
	service   *service.BatchService
	validator *validator.Validate
}

func NewBatchHandler(svc *service.BatchService, v *validator.Validate) *BatchHandler {
	return &BatchHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/batch
func (h *BatchHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.Context(), middleware.GetUserID(c), middleware.GetPlan(c), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidToolType) {
			return response.ValidationError(c, "Unknown tool type", nil)
		}
		if errors.Is(err, service.ErrQueueFull) {
			return response.QueueFull(c)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/batch/:batchId
func (h *BatchHandler) Status(c *fiber.Ctx) error {
	status, err := h.loadStatus(c)
	if err != nil {
		return err
	}
	return response.OK(c, status)
}

// Archive handles GET /api/batch/:batchId/archive
func (h *BatchHandler) Archive(c *fiber.Ctx) error {
	status, err := h.loadStatus(c)
	if err != nil {
		return err
	}

	if status.ArchivePath == "" {
		return response.NotFound(c, "Archive not ready")
	}
	return c.Download(status.ArchivePath, filepath.Base(status.ArchivePath))
}

func (h *BatchHandler) loadStatus(c *fiber.Ctx) (*model.BatchStatusResponse, error) {
	batchID := c.Params("batchId")
	if batchID == "" {
		return nil, response.ValidationError(c, "Batch ID is required", nil)
	}

	status, err := h.service.Status(c.Context(), middleware.GetUserID(c), batchID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBatchNotFound):
			return nil, response.NotFound(c, "Batch not found")
		case errors.Is(err, service.ErrNotOwner):
			return nil, response.Forbidden(c, "Not your batch")
		default:
			return nil, response.ServiceError(c, err.Error())
		}
	}
	return status, nil
}
