package middlewares

import (
	"github.com/gofiber/fiber/v2"

	"github.com/oarkflow/anchor/pkg/http/responses"
	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/objects"
)

// RequireConnection stops requests early when no identity service is
// configured.
func RequireConnection(c *fiber.Ctx) error {
	if objects.Manager.Connection() != nil {
		return c.Next()
	}
	return responses.ErrorPage(c, fiber.StatusServiceUnavailable, models.ErrorPageData{
		Title:       "Service endpoint not set",
		Message:     "There was a problem contacting the identity service. The host serving this page did not give us a service endpoint. Try reloading the page and contact support if the problem persists.",
		ButtonLabel: "Reload",
		RetryURL:    c.OriginalURL(),
	})
}
