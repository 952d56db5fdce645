package utils

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/gofiber/fiber/v2"

	"github.com/oarkflow/anchor/pkg/models"
)

var ErrInvalidAnchor = errors.New("invalid user number")

func GetCookie(enableHTTPS bool, env, key, val string, maxAges ...int) *fiber.Cookie {
	maxAge := 300
	if len(maxAges) > 0 {
		maxAge = maxAges[0]
	}

	secure := enableHTTPS || env == "production"

	return &fiber.Cookie{
		Name:     key,
		Value:    val,
		Path:     "/",
		HTTPOnly: true,
		Secure:   secure,
		SameSite: fiber.CookieSameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

func GetClientIP(c *fiber.Ctx) string {
	if xff := c.Get("X-Forwarded-For"); len(xff) > 0 {
		if comma := strings.IndexByte(xff, ','); comma > 0 {
			return strings.TrimSpace(xff[:comma])
		}
		return strings.TrimSpace(xff)
	}

	if xri := c.Get("X-Real-IP"); len(xri) > 0 {
		return strings.TrimSpace(xri)
	}

	ip := c.IP()
	if i := strings.LastIndexByte(ip, ':'); i != -1 && strings.Count(ip, ":") == 1 {
		return ip[:i]
	}
	return ip
}

// ParseAnchorNumber accepts a user number as typed by a person: digits only,
// surrounding spaces ignored.
func ParseAnchorNumber(input string) (models.AnchorNumber, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, ErrInvalidAnchor
	}
	for _, r := range input {
		if r < '0' || r > '9' {
			return 0, ErrInvalidAnchor
		}
	}
	n, err := strconv.ParseUint(input, 10, 64)
	if err != nil {
		return 0, ErrInvalidAnchor
	}
	return n, nil
}

// MaxAliasLength caps a device alias, counted in runes.
const MaxAliasLength = 64

// SanitizeInput trims input, drops control characters and caps it at
// MaxAliasLength runes. The result is stored raw; templates escape it.
func SanitizeInput(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	n := 0
	for _, r := range input {
		if unicode.IsControl(r) {
			continue
		}
		if n == MaxAliasLength {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}
