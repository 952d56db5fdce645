package responses

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/objects"
	"github.com/oarkflow/anchor/pkg/utils"
)

func Render(c *fiber.Ctx, template string, data any, layouts ...string) error {
	if c == nil {
		return fiber.ErrBadRequest
	}
	if template == "" {
		return c.JSON(data)
	}
	layout := "anchor/" + objects.Layout
	if len(layouts) > 0 {
		layout = layouts[0]
	}
	if layout != "" {
		layouts = []string{layout}
	}
	c.Set("Content-Type", "text/html; charset=utf-8")
	if objects.ViewEngine == nil {
		return c.Render(template, data, layouts...)
	}

	return objects.ViewEngine.Render(c.Response().BodyWriter(), template, data, layouts...)
}

// Error answers an API request with the error and its wire code.
func Error(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  contracts.ErrorCode(err),
	})
}

// ErrorPage renders a titled error with exactly one button. JSON clients get
// the same fields as an object.
func ErrorPage(c *fiber.Ctx, status int, data models.ErrorPageData) error {
	data.StatusCode = status
	if data.ErrorID == "" {
		data.ErrorID = fmt.Sprintf("ERR-%d-%d", time.Now().Unix(), status)
	}
	if data.ButtonLabel == "" {
		data.ButtonLabel = "Ok"
	}
	if data.RetryURL == "" {
		data.RetryURL = utils.LandingURI
	}
	c.Status(status)
	if c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON {
		return c.JSON(data)
	}
	return Render(c, utils.ErrorTemplate, data)
}
