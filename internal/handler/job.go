package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/guntupalli09/videotools-sub000/internal/middleware"
	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/service"
	"github.com/guntupalli09/videotools-sub000/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/jobs
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitJobRequest
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

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	job, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}

	status, err := h.service.GetStatus(c.Context(), job.ID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, status)
}

// Result handles GET /api/jobs/:jobId/result
func (h *JobHandler) Result(c *fiber.Ctx) error {
	job, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}

	result, err := h.service.GetResult(c.Context(), job.ID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotCompleted) {
			return response.ValidationError(c, "Job not completed yet", nil)
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// Download handles GET /api/jobs/:jobId/download
func (h *JobHandler) Download(c *fiber.Ctx) error {
	job, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}

	result, err := h.service.GetResult(c.Context(), job.ID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotCompleted) {
			return response.ValidationError(c, "Job not completed yet", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	if result.DownloadURL != "" {
		return c.Redirect(result.DownloadURL, fiber.StatusTemporaryRedirect)
	}
	if result.OutputPath == "" {
		return response.NotFound(c, "No artifact for this job")
	}
	return c.Download(result.OutputPath, result.FileName)
}

// loadAuthorized loads the job and checks the caller may read it: either a
// valid job token scoped to this job id, or the owning identity.
func (h *JobHandler) loadAuthorized(c *fiber.Ctx) (*model.Job, error) {
	jobID := c.Params("jobId")
	if jobID == "" {
		return nil, response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetJob(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return nil, response.NotFound(c, "Job not found")
		}
		return nil, response.ServiceError(c, err.Error())
	}

	if token := c.Query("token"); token != "" {
		if id, err := h.service.Tokens().Verify(token); err == nil && id == job.ID {
			return job, nil
		}
	}
	if userID := middleware.GetUserID(c); userID != "" && userID == job.OwnerID {
		return job, nil
	}

	return nil, response.Forbidden(c, "Not authorized for this job")
}
