package middlewares

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/oarkflow/anchor/pkg/objects"
	"github.com/oarkflow/anchor/pkg/utils"
)

// RateLimit middleware for protecting endpoints from excessive requests
func RateLimit(c *fiber.Ctx) error {
	return RateLimitWithMax(objects.Config.GetInt("anchor.rate_limit_requests", 30))(c)
}

// RateLimitWithMax creates a rate limiting middleware with custom max requests per minute
func RateLimitWithMax(maxRequests int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientIP := utils.GetClientIP(c)
		endpointID := fmt.Sprintf("%s:%s", clientIP, c.Path())

		if objects.Manager.Security().IsRateLimitedWithMax(endpointID, maxRequests) {
			objects.Manager.Logger().Warn("rate limit exceeded",
				zap.String("ip", clientIP),
				zap.String("path", c.Path()),
			)
			if wantsJSON(c) {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error":       "Too many requests",
					"message":     "Please wait before making another request",
					"retry_after": "60",
				})
			}
			return SendError(c, fiber.StatusTooManyRequests, "Too many requests. Please wait before trying again.")
		}

		objects.Manager.Security().RecordRequest(endpointID)
		return c.Next()
	}
}

func wantsJSON(c *fiber.Ctx) bool {
	contentType := c.Get("Content-Type")
	if contentType == fiber.MIMEApplicationJSON || contentType == fiber.MIMEApplicationJSONCharsetUTF8 {
		return true
	}
	return c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON
}
