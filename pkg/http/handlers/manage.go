package handlers

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/devicelink"
	"github.com/oarkflow/anchor/pkg/http/middlewares"
	"github.com/oarkflow/anchor/pkg/http/requests"
	"github.com/oarkflow/anchor/pkg/http/responses"
	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/objects"
	"github.com/oarkflow/anchor/pkg/utils"
)

type deviceView struct {
	Alias        string
	Purpose      models.Purpose
	KeyType      models.KeyType
	CredentialID string
}

func ManagePage(c *fiber.Ctx) error {
	anchor, _ := middlewares.ActiveAnchor(c)
	info, err := objects.Manager.Connection().GetAnchorInfo(c.UserContext(), anchor)
	if err != nil {
		if errors.Is(err, contracts.ErrUnknownAnchor) {
			objects.Manager.Sessions().Clear(c)
			return renderErrorPage(c, http.StatusNotFound, ErrorOptions{
				Title:         "Unknown User Number",
				Message:       fmt.Sprintf("Failed to find an identity for the User Number %d.", anchor),
				PrimaryButton: "Ok",
				RetryURL:      utils.LandingURI,
			})
		}
		return unexpectedError(c, err)
	}
	devices := make([]deviceView, 0, len(info.Devices))
	for _, device := range info.Devices {
		view := deviceView{Alias: device.Alias, Purpose: device.Purpose, KeyType: device.KeyType}
		if id, ok := device.SingleCredentialID(); ok {
			view.CredentialID = hex.EncodeToString(id)
		}
		devices = append(devices, view)
	}
	data := fiber.Map{
		"Title":      "Manage your Identity Anchor",
		"Anchor":     anchor,
		"Devices":    devices,
		"Registered": c.Query("registered"),
		"Error":      c.Query("error"),
	}
	if reg := info.DeviceRegistration; reg != nil {
		data["RegistrationUntil"] = reg.Expiration.Time().Format(time.Kitchen)
		if reg.TentativeDevice != nil {
			data["TentativeAlias"] = reg.TentativeDevice.Alias
		}
	}
	noCache(c)
	return responses.Render(c, utils.ManageTemplate, data)
}

func PostRegistrationMode(c *fiber.Ctx) error {
	anchor, _ := middlewares.ActiveAnchor(c)
	if _, err := objects.Manager.Connection().EnterDeviceRegistrationMode(c.UserContext(), anchor); err != nil {
		return unexpectedError(c, err)
	}
	return c.Redirect(utils.ManageURI, http.StatusSeeOther)
}

// PostVerifyCode lets an existing device confirm the tentative device with
// the code shown on the new device.
func PostVerifyCode(c *fiber.Ctx) error {
	anchor, _ := middlewares.ActiveAnchor(c)
	var req requests.VerifyCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return renderErrorPage(c, http.StatusBadRequest, ErrorOptions{
			Title:         "Invalid Form Data",
			Message:       "The verification code could not be read.",
			Detail:        err.Error(),
			PrimaryButton: "Try again",
			RetryURL:      utils.ManageURI,
		})
	}
	code := strings.TrimSpace(req.Code)
	err := objects.Manager.Connection().VerifyTentativeDevice(c.UserContext(), anchor, code)
	switch {
	case err == nil:
		objects.Manager.Audit(c, anchor, models.OperationVerifyDevice, "")
		return c.Redirect(utils.ManageURI, http.StatusSeeOther)
	case errors.Is(err, contracts.ErrWrongCode):
		return renderErrorPage(c, http.StatusBadRequest, ErrorOptions{
			Title:         "Wrong verification code",
			Message:       err.Error(),
			PrimaryButton: "Try again",
			RetryURL:      utils.ManageURI,
		})
	case errors.Is(err, contracts.ErrVerificationExhausted), errors.Is(err, contracts.ErrNoDeviceToVerify):
		return renderErrorPage(c, http.StatusBadRequest, ErrorOptions{
			Title:         "Device verification failed",
			Message:       "There is no device waiting for verification anymore. Add the new device again.",
			Detail:        err.Error(),
			PrimaryButton: "Ok",
			RetryURL:      utils.ManageURI,
		})
	default:
		return unexpectedError(c, err)
	}
}

func linkRejected(c *fiber.Ctx, err error) error {
	return renderErrorPage(c, http.StatusBadRequest, ErrorOptions{
		Title:         "Invalid device link",
		Message:       "The link you opened does not describe a device.",
		Detail:        err.Error(),
		PrimaryButton: "Ok",
		RetryURL:      utils.ManageURI,
	})
}

func wrongAnchor(c *fiber.Ctx, linked, active models.AnchorNumber) error {
	return renderErrorPage(c, http.StatusForbidden, ErrorOptions{
		Title:         "Wrong Identity Anchor",
		Message:       fmt.Sprintf("This link adds a device to %d but you are signed in as %d.", linked, active),
		PrimaryButton: "Ok",
		RetryURL:      utils.ManageURI,
	})
}

// LinkDevicePage asks for confirmation before adding the device from a
// #device= link opened on this browser.
func LinkDevicePage(c *fiber.Ctx) error {
	anchor, _ := middlewares.ActiveAnchor(c)
	fragment := c.Query("device")
	linked, cred, err := devicelink.ParseFragment(fragment)
	if err != nil {
		return linkRejected(c, err)
	}
	if linked != anchor {
		return wrongAnchor(c, linked, anchor)
	}
	return responses.Render(c, utils.LinkDeviceTemplate, fiber.Map{
		"Title":  "Add a new device",
		"Anchor": anchor,
		"Device": fragment,
		"PubKey": hex.EncodeToString(cred.PubKey),
	})
}

func PostLinkDevice(c *fiber.Ctx) error {
	anchor, _ := middlewares.ActiveAnchor(c)
	var req requests.LinkDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return linkRejected(c, err)
	}
	linked, cred, err := devicelink.ParseFragment(req.Device)
	if err != nil {
		return linkRejected(c, err)
	}
	if linked != anchor {
		return wrongAnchor(c, linked, anchor)
	}
	device := newDevice(req.Alias, cred)
	if err := objects.Manager.Connection().AddDevice(c.UserContext(), anchor, device); err != nil {
		if errors.Is(err, contracts.ErrDeviceExists) || errors.Is(err, contracts.ErrTooManyDevices) {
			return renderErrorPage(c, http.StatusConflict, ErrorOptions{
				Title:         "Failed to add the new device",
				Message:       err.Error(),
				PrimaryButton: "Ok",
				RetryURL:      utils.ManageURI,
			})
		}
		return unexpectedError(c, err)
	}
	objects.Manager.Audit(c, anchor, models.OperationLinkDevice, device.Alias)
	return c.Redirect(utils.ManageURI, http.StatusSeeOther)
}
