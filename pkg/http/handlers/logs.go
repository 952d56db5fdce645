package handlers

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/oarkflow/anchor/pkg/http/middlewares"
	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/objects"
	"github.com/oarkflow/anchor/pkg/storage"
	"github.com/oarkflow/anchor/pkg/utils"
)

type cursorResponse struct {
	NextToken string            `json:"next_token,omitempty"`
	Timestamp *models.Timestamp `json:"timestamp,omitempty"`
}

type anchorLogsResponse struct {
	Entries []models.LogEntry `json:"entries"`
	Cursor  *cursorResponse   `json:"cursor,omitempty"`
}

func badQuery(c *fiber.Ctx, name string, err error) error {
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{
		"error": "invalid " + name + ": " + err.Error(),
	})
}

func optionalUint(c *fiber.Ctx, name string, bits int) (*uint64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, bits)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optionalLimit(c *fiber.Ctx) (*uint16, error) {
	v, err := optionalUint(c, "limit", 16)
	if err != nil || v == nil {
		return nil, err
	}
	limit := uint16(*v)
	return &limit, nil
}

// GetLogs pages through the whole activity log. Without an index the most
// recent entries are returned.
func GetLogs(c *fiber.Ctx) error {
	logs := objects.Manager.Logs()
	if logs == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "activity log disabled"})
	}
	index, err := optionalUint(c, "index", 64)
	if err != nil {
		return badQuery(c, "index", err)
	}
	limit, err := optionalLimit(c)
	if err != nil {
		return badQuery(c, "limit", err)
	}
	result, err := logs.GetLogs(index, limit)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if result.Entries == nil {
		result.Entries = []models.LogEntry{}
	}
	return c.JSON(result)
}

// GetAnchorLogs pages through the entries of the signed in anchor.
func GetAnchorLogs(c *fiber.Ctx) error {
	logs := objects.Manager.Logs()
	if logs == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "activity log disabled"})
	}
	anchor, err := utils.ParseAnchorNumber(c.Params("anchor"))
	if err != nil {
		return badQuery(c, "anchor", err)
	}
	if active, _ := middlewares.ActiveAnchor(c); active != anchor {
		return c.Status(http.StatusForbidden).JSON(fiber.Map{"error": "not your anchor"})
	}
	var cursor *models.Cursor
	if raw := c.Query("cursor"); raw != "" {
		token, err := hex.DecodeString(raw)
		if err != nil {
			return badQuery(c, "cursor", err)
		}
		cursor = &models.Cursor{NextToken: token}
	} else if ts, err := optionalUint(c, "timestamp", 64); err != nil {
		return badQuery(c, "timestamp", err)
	} else if ts != nil {
		t := models.Timestamp(*ts)
		cursor = &models.Cursor{Timestamp: &t}
	}
	limit, err := optionalLimit(c)
	if err != nil {
		return badQuery(c, "limit", err)
	}
	result, err := logs.GetAnchorLogs(anchor, cursor, limit)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCursor) {
			return badQuery(c, "cursor", err)
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	resp := anchorLogsResponse{Entries: result.Entries}
	if resp.Entries == nil {
		resp.Entries = []models.LogEntry{}
	}
	if result.Cursor != nil {
		resp.Cursor = &cursorResponse{Timestamp: result.Cursor.Timestamp}
		if len(result.Cursor.NextToken) > 0 {
			resp.Cursor.NextToken = hex.EncodeToString(result.Cursor.NextToken)
		}
	}
	return c.JSON(resp)
}
