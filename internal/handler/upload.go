package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/guntupalli09/videotools-sub000/internal/middleware"
	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/service"
	"github.com/guntupalli09/videotools-sub000/pkg/response"
)

type UploadHandler struct {
	service   *service.UploadService
	validator *validator.Validate
}

func NewUploadHandler(svc *service.UploadService, v *validator.Validate) *UploadHandler {
	return &UploadHandler{
		service:   svc,
		validator: v,
	}
}

// Init handles POST /api/upload/init
func (h *UploadHandler) Init(c *fiber.Ctx) error {
	var req model.UploadInitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Init(c.Context(), middleware.GetUserID(c), middleware.GetPlan(c), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToolType):
			return response.ValidationError(c, "Unknown tool type", nil)
		case errors.Is(err, service.ErrChunkCountRange):
			return response.ValidationError(c, "Chunk count out of range", nil)
		case errors.Is(err, service.ErrSizeExceeded):
			return response.ValidationError(c, "File exceeds the plan size limit", nil)
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.Created(c, result)
}

// Chunk handles PUT /api/upload/chunk with the raw chunk bytes as the
// request body. X-Upload-Id and X-Chunk-Index headers address the slot.
func (h *UploadHandler) Chunk(c *fiber.Ctx) error {
	uploadID := c.Get("X-Upload-Id")
	if uploadID == "" {
		return response.ValidationError(c, "Missing X-Upload-Id header", nil)
	}
	index, err := strconv.Atoi(c.Get("X-Chunk-Index"))
	if err != nil {
		return response.ValidationError(c, "Missing or invalid X-Chunk-Index header", nil)
	}

	data := c.Body()
	if len(data) == 0 {
		return response.ValidationError(c, "Empty chunk body", nil)
	}

	if err := h.service.PutChunk(c.Context(), middleware.GetUserID(c), uploadID, index, data); err != nil {
		switch {
		case errors.Is(err, service.ErrUploadNotFound):
			return response.NotFound(c, "Upload session not found")
		case errors.Is(err, service.ErrNotOwner):
			return response.Forbidden(c, "Not your upload session")
		case errors.Is(err, service.ErrChunkIndexRange):
			return response.ValidationError(c, "Chunk index out of range", nil)
		case errors.Is(err, service.ErrSizeExceeded):
			return response.ValidationError(c, "Upload exceeds its declared size or plan limit", nil)
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.NoContent(c)
}

// Complete handles POST /api/upload/:uploadId/complete
func (h *UploadHandler) Complete(c *fiber.Ctx) error {
	uploadID := c.Params("uploadId")

	result, err := h.service.Complete(c.Context(), middleware.GetUserID(c), uploadID)
	if err != nil {
		if missing, ok := service.IsMissingChunk(err); ok {
			return response.ValidationError(c, "Upload is incomplete", fiber.Map{"missingIndex": missing.Index})
		}
		switch {
		case errors.Is(err, service.ErrUploadNotFound):
			return response.NotFound(c, "Upload session not found")
		case errors.Is(err, service.ErrNotOwner):
			return response.Forbidden(c, "Not your upload session")
		case errors.Is(err, service.ErrSizeExceeded):
			return response.ValidationError(c, "Upload exceeds its declared size or plan limit", nil)
		case errors.Is(err, service.ErrQueueFull):
			return response.QueueFull(c)
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.Accepted(c, result)
}
