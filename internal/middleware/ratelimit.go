package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/guntupalli09/videotools-sub000/internal/service"
	"github.com/guntupalli09/videotools-sub000/pkg/response"
)

// UploadLimit applies the per-identity submission window. The admission
// counter records the request as it checks it, so a rejected request still
// burns budget.
func UploadLimit(admission *service.Admission) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity := GetUserID(c)
		if identity == "" {
			identity = "anon:" + c.IP()
		}

		if err := admission.CheckAndRecordUpload(c.Context(), identity); err != nil {
			if errors.Is(err, service.ErrRateLimited) {
				return response.RateLimited(c)
			}
			return response.ServiceError(c, err.Error())
		}
		return c.Next()
	}
}
