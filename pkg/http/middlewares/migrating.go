package middlewares

import (
	"github.com/gofiber/fiber/v2"

	"github.com/oarkflow/anchor/pkg/http/responses"
	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/objects"
)

// Migrating holds every page behind a maintenance notice while app.migrating
// is set.
func Migrating(c *fiber.Ctx) error {
	if !objects.Config.GetBool("app.migrating", false) {
		return c.Next()
	}
	return responses.ErrorPage(c, fiber.StatusServiceUnavailable, models.ErrorPageData{
		Title:       "Men At Work 👷",
		Message:     "migrating, nothing to see here",
		ButtonLabel: "Reload",
		RetryURL:    c.OriginalURL(),
	})
}
