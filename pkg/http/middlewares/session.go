package middlewares

import (
	"net/url"
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/objects"
	"github.com/oarkflow/anchor/pkg/utils"
)

const anchorKey = "anchor"

func SendError(c *fiber.Ctx, status int, message string) error {
	lastURI := c.OriginalURL()
	if !isAssetURI(lastURI) {
		c = flash.WithData(c, fiber.Map{"last_visited_uri": lastURI})
	}
	if wantsJSON(c) {
		return c.Status(status).JSON(fiber.Map{
			"success": false,
			"error":   message,
			"status":  status,
		})
	}
	return c.Redirect(utils.LoginURI + "?error=" + url.QueryEscape(message))
}

func isAssetURI(uri string) bool {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		uri = uri[:i]
	}
	return path.Ext(uri) != ""
}

// RequireSession lets the request through only when the browser holds an
// active anchor. The anchor is stored in the request locals.
func RequireSession(c *fiber.Ctx) error {
	anchor, ok := objects.Manager.Sessions().ReadActiveAnchor(c)
	if !ok {
		return SendError(c, fiber.StatusUnauthorized, "Please log in first")
	}
	c.Locals(anchorKey, anchor)
	c.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Set("Pragma", "no-cache")
	c.Set("Expires", "0")
	return c.Next()
}

// ActiveAnchor returns the anchor RequireSession stored for this request.
func ActiveAnchor(c *fiber.Ctx) (models.AnchorNumber, bool) {
	anchor, ok := c.Locals(anchorKey).(models.AnchorNumber)
	return anchor, ok
}
