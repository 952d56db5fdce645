package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/http/requests"
	"github.com/oarkflow/anchor/pkg/http/responses"
	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/objects"
	"github.com/oarkflow/anchor/pkg/utils"
)

// The handlers below serve the in-memory ledger over the same JSON API the
// client package speaks, so another front end can use this one as its
// identity service during development.

func apiStatus(err error) int {
	switch {
	case errors.Is(err, contracts.ErrUnknownAnchor):
		return http.StatusNotFound
	case errors.Is(err, contracts.ErrDeviceExists), errors.Is(err, contracts.ErrTentativeDeviceExists):
		return http.StatusConflict
	case errors.Is(err, contracts.ErrRegistrationModeOff), errors.Is(err, contracts.ErrVerificationExhausted):
		return http.StatusForbidden
	case errors.Is(err, contracts.ErrTooManyDevices),
		errors.Is(err, contracts.ErrNoDeviceToVerify),
		errors.Is(err, contracts.ErrWrongCode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func apiError(c *fiber.Ctx, err error) error {
	return responses.Error(c, apiStatus(err), err)
}

func apiBadRequest(c *fiber.Ctx, code string, err error) error {
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "code": code})
}

func APIServiceInfo(c *fiber.Ctx) error {
	provider, ok := objects.Manager.Connection().(contracts.ServiceInfoProvider)
	if !ok {
		return c.JSON(models.ServiceInfo{Name: objects.Config.GetString("app.name", "Anchor")})
	}
	info, err := provider.ServiceInfo(c.UserContext())
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(info)
}

func APILookupAuthenticators(c *fiber.Ctx) error {
	anchor, err := utils.ParseAnchorNumber(c.Params("anchor"))
	if err != nil {
		return apiBadRequest(c, "invalid_anchor", err)
	}
	devices, err := objects.Manager.Connection().LookupAuthenticators(c.UserContext(), anchor)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(devices)
}

func APILookup(c *fiber.Ctx) error {
	anchor, err := utils.ParseAnchorNumber(c.Params("anchor"))
	if err != nil {
		return apiBadRequest(c, "invalid_anchor", err)
	}
	devices, err := objects.Manager.Connection().Lookup(c.UserContext(), anchor)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(devices)
}

func APIGetAnchorInfo(c *fiber.Ctx) error {
	anchor, err := utils.ParseAnchorNumber(c.Params("anchor"))
	if err != nil {
		return apiBadRequest(c, "invalid_anchor", err)
	}
	info, err := objects.Manager.Connection().GetAnchorInfo(c.UserContext(), anchor)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(info)
}

func APICreateAnchor(c *fiber.Ctx) error {
	var device models.DeviceData
	if err := c.BodyParser(&device); err != nil {
		return apiBadRequest(c, "invalid_device", err)
	}
	anchor, err := objects.Manager.Connection().CreateAnchor(c.UserContext(), device)
	if err != nil {
		return apiError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"anchor": anchor})
}

func APIAddDevice(c *fiber.Ctx) error {
	anchor, err := utils.ParseAnchorNumber(c.Params("anchor"))
	if err != nil {
		return apiBadRequest(c, "invalid_anchor", err)
	}
	var device models.DeviceData
	if err := c.BodyParser(&device); err != nil {
		return apiBadRequest(c, "invalid_device", err)
	}
	if err := objects.Manager.Connection().AddDevice(c.UserContext(), anchor, device); err != nil {
		return apiError(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func APIEnterRegistrationMode(c *fiber.Ctx) error {
	anchor, err := utils.ParseAnchorNumber(c.Params("anchor"))
	if err != nil {
		return apiBadRequest(c, "invalid_anchor", err)
	}
	expiration, err := objects.Manager.Connection().EnterDeviceRegistrationMode(c.UserContext(), anchor)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(fiber.Map{"expiration": expiration})
}

func APIAddTentativeDevice(c *fiber.Ctx) error {
	anchor, err := utils.ParseAnchorNumber(c.Params("anchor"))
	if err != nil {
		return apiBadRequest(c, "invalid_anchor", err)
	}
	var device models.DeviceData
	if err := c.BodyParser(&device); err != nil {
		return apiBadRequest(c, "invalid_device", err)
	}
	info, err := objects.Manager.Connection().AddTentativeDevice(c.UserContext(), anchor, device)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(info)
}

func APIVerifyTentativeDevice(c *fiber.Ctx) error {
	anchor, err := utils.ParseAnchorNumber(c.Params("anchor"))
	if err != nil {
		return apiBadRequest(c, "invalid_anchor", err)
	}
	var req requests.VerifyCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return apiBadRequest(c, "invalid_code", err)
	}
	if err := objects.Manager.Connection().VerifyTentativeDevice(c.UserContext(), anchor, req.Code); err != nil {
		return apiError(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}
