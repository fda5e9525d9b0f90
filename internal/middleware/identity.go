// Package middleware resolves caller identity and applies admission-control
// rate limits before requests reach the handlers.
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/guntupalli09/videotools-sub000/internal/auth"
	"github.com/guntupalli09/videotools-sub000/internal/model"
)

// Identity resolves who is calling. Resolution order: trusted gateway
// headers, then an optional bearer token, then an anonymous identity keyed
// by client IP. Anonymous callers are admitted on the free plan; rejection
// happens at the rate limiter, not here.
type Identity struct {
	verifier       auth.TokenVerifier // nil when no OIDC issuer is configured
	gatewayEnabled bool
}

// NewIdentity creates the identity middleware.
func NewIdentity(verifier auth.TokenVerifier, gatewayEnabled bool) *Identity {
	return &Identity{verifier: verifier, gatewayEnabled: gatewayEnabled}
}

// Resolve populates userId and plan locals for every request.
func (m *Identity) Resolve() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.gatewayEnabled {
			if userID := c.Get("X-User-Id"); userID != "" {
				c.Locals("userId", userID)
				c.Locals("email", c.Get("X-User-Email"))
				c.Locals("plan", planFrom(c.Get("X-User-Plan")))
				return c.Next()
			}
		}

		if token := bearerToken(c); token != "" && m.verifier != nil {
			claims, err := m.verifier.Validate(token)
			if err == nil {
				c.Locals("userId", claims.UserID)
				c.Locals("email", claims.Email)
				c.Locals("plan", planFrom(claims.Plan))
				return c.Next()
			}
		}

		c.Locals("userId", "anon:"+c.IP())
		c.Locals("plan", model.TierFree)
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func planFrom(raw string) model.PlanTier {
	tier := model.PlanTier(strings.ToLower(raw))
	if !model.IsValidPlanTier(tier) {
		return model.TierFree
	}
	return tier
}

// GetUserID extracts the resolved caller identity from context.
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetPlan extracts the resolved plan tier from context.
func GetPlan(c *fiber.Ctx) model.PlanTier {
	if plan, ok := c.Locals("plan").(model.PlanTier); ok {
		return plan
	}
	return model.TierFree
}
