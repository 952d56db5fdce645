package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/devicelink"
	"github.com/oarkflow/anchor/pkg/http/requests"
	"github.com/oarkflow/anchor/pkg/http/responses"
	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/objects"
	"github.com/oarkflow/anchor/pkg/utils"
)

const anchorPlaceholder = "Enter User Number"

func AddDevicePage(c *fiber.Ctx) error {
	data := fiber.Map{
		"Title":       "New device",
		"Anchor":      c.Query("anchor"),
		"Placeholder": anchorPlaceholder,
		"Software":    objects.Config.GetBool("anchor.software_authenticator", false),
	}
	for k, v := range flash.Get(c) {
		data[k] = v
	}
	return responses.Render(c, utils.AddDeviceTemplate, data)
}

func missingAnchor(c *fiber.Ctx) error {
	return flash.WithError(c, fiber.Map{
		"Errored":     true,
		"Placeholder": "Please enter your User Number first",
	}).Redirect(utils.AddDeviceURI, http.StatusSeeOther)
}

// PostAddDevice creates a credential on this device and shows the link an
// existing device opens to add it.
func PostAddDevice(c *fiber.Ctx) error {
	var req requests.AddDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return missingAnchor(c)
	}
	anchor, err := utils.ParseAnchorNumber(req.Anchor)
	if err != nil {
		return missingAnchor(c)
	}
	flow, err := objects.Manager.StartDeviceLink(c.UserContext(), browserID(c), anchor, c.BaseURL(), credentialCreator(req.PubKey, req.RawID))
	if err != nil {
		if errors.Is(err, devicelink.ErrAuthenticate) {
			return authenticateError(c, err, addDeviceRetryURI(anchor))
		}
		return unexpectedError(c, err)
	}
	rememberDevice(c, flow.Credential())
	return c.Redirect(utils.FlowURI(utils.AddDeviceURI, flow.ID()), http.StatusSeeOther)
}

// ownFlow finds the flow named in the path if this browser started it.
func ownFlow(c *fiber.Ctx) (contracts.Flow, bool) {
	owner := c.Cookies(utils.BrowserCookie)
	if owner == "" {
		return nil, false
	}
	return objects.Manager.Flow(c.Params("flow"), owner)
}

func linkFlow(c *fiber.Ctx) (contracts.LinkFlow, bool) {
	flow, ok := ownFlow(c)
	if !ok {
		return nil, false
	}
	link, ok := flow.(contracts.LinkFlow)
	return link, ok
}

func verificationFlow(c *fiber.Ctx) (contracts.VerificationFlow, bool) {
	flow, ok := ownFlow(c)
	if !ok {
		return nil, false
	}
	v, ok := flow.(contracts.VerificationFlow)
	return v, ok
}

func DeviceLinkPage(c *fiber.Ctx) error {
	flow, ok := linkFlow(c)
	if !ok {
		return flowNotFound(c)
	}
	noCache(c)
	return responses.Render(c, utils.DeviceLinkTemplate, fiber.Map{
		"Title":     "Add this device",
		"Anchor":    flow.Anchor(),
		"Link":      flow.Link(),
		"QRCode":    devicelink.QRCodeDataURL(flow.QRCode()),
		"StatusURI": utils.FlowURI(utils.AddDeviceURI, flow.ID(), "status"),
		"CancelURI": utils.FlowURI(utils.AddDeviceURI, flow.ID(), "cancel"),
		"DoneURI":   utils.FlowURI(utils.AddDeviceURI, flow.ID(), "done"),
	})
}

func DeviceLinkQRCode(c *fiber.Ctx) error {
	flow, ok := linkFlow(c)
	if !ok {
		return c.SendStatus(http.StatusNotFound)
	}
	c.Type("png")
	return c.Send(flow.QRCode())
}

func DeviceLinkStatus(c *fiber.Ctx) error {
	flow, ok := linkFlow(c)
	if !ok {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "flow not found"})
	}
	noCache(c)
	return c.JSON(flow.Status())
}

func CancelDeviceLink(c *fiber.Ctx) error {
	if flow, ok := linkFlow(c); ok {
		objects.Manager.RemoveFlow(flow.ID())
	}
	return c.Redirect(utils.LandingURI, http.StatusSeeOther)
}

// DeviceLinkDone applies the outcome of a finished device-link flow.
func DeviceLinkDone(c *fiber.Ctx) error {
	flow, ok := linkFlow(c)
	if !ok {
		return flowNotFound(c)
	}
	outcome, done := flow.Outcome()
	if !done {
		return c.Redirect(utils.FlowURI(utils.AddDeviceURI, flow.ID()), http.StatusSeeOther)
	}
	objects.Manager.RemoveFlow(flow.ID())
	switch outcome.Kind {
	case models.OutcomeVerified:
		if err := objects.Manager.Sessions().PersistActiveAnchor(c, outcome.Anchor); err != nil {
			return unexpectedError(c, err)
		}
		objects.Manager.Audit(c, outcome.Anchor, models.OperationLogin, "device link")
		return c.Redirect(utils.ManageURI, http.StatusSeeOther)
	case models.OutcomeTimedOut:
		return renderErrorPage(c, http.StatusRequestTimeout, ErrorOptions{
			Title:         "Timeout Reached",
			Message:       "The new device was not added in time. Start again to get a fresh link.",
			PrimaryButton: "Try again",
			RetryURL:      addDeviceRetryURI(flow.Anchor()),
		})
	case models.OutcomeFailed:
		return renderErrorPage(c, http.StatusBadGateway, ErrorOptions{
			Title:         "Device verification failed",
			Message:       "We could not confirm that the new device was added.",
			Detail:        outcome.Detail,
			PrimaryButton: "Try again",
			RetryURL:      addDeviceRetryURI(flow.Anchor()),
		})
	default:
		return c.Redirect(utils.LandingURI, http.StatusSeeOther)
	}
}

// PostTentative adds this device tentatively and opens the verification
// page with the code the user types on an existing device.
func PostTentative(c *fiber.Ctx) error {
	var req requests.TentativeRequest
	if err := c.BodyParser(&req); err != nil {
		return missingAnchor(c)
	}
	anchor, err := utils.ParseAnchorNumber(req.Anchor)
	if err != nil {
		return missingAnchor(c)
	}
	cred, err := credentialCreator(req.PubKey, req.RawID).Create(c.UserContext())
	if err != nil {
		return authenticateError(c, err, addDeviceRetryURI(anchor))
	}
	device := newDevice(req.Alias, cred)
	info, err := objects.Manager.Connection().AddTentativeDevice(c.UserContext(), anchor, device)
	if err != nil {
		switch {
		case errors.Is(err, contracts.ErrRegistrationModeOff):
			return renderErrorPage(c, http.StatusBadRequest, ErrorOptions{
				Title:         "Device registration is off",
				Message:       "Enable device registration on a device already added to this anchor, then try again.",
				PrimaryButton: "Try again",
				RetryURL:      addDeviceRetryURI(anchor),
			})
		case errors.Is(err, contracts.ErrTentativeDeviceExists),
			errors.Is(err, contracts.ErrDeviceExists),
			errors.Is(err, contracts.ErrTooManyDevices),
			errors.Is(err, contracts.ErrUnknownAnchor):
			return renderErrorPage(c, http.StatusBadRequest, ErrorOptions{
				Title:         "Failed to add the new device",
				Message:       err.Error(),
				PrimaryButton: "Try again",
				RetryURL:      addDeviceRetryURI(anchor),
			})
		}
		return unexpectedError(c, err)
	}
	flow, err := objects.Manager.StartVerification(browserID(c), anchor, device.Alias, cred.RawID, info)
	if err != nil {
		return unexpectedError(c, err)
	}
	rememberDevice(c, cred)
	objects.Manager.Audit(c, anchor, models.OperationAddDevice, device.Alias)
	return c.Redirect(utils.FlowURI(utils.VerifyURI, flow.ID()), http.StatusSeeOther)
}

func VerifyDevicePage(c *fiber.Ctx) error {
	flow, ok := verificationFlow(c)
	if !ok {
		return flowNotFound(c)
	}
	noCache(c)
	return responses.Render(c, utils.VerifyDeviceTemplate, fiber.Map{
		"Title":     "Device Verification Required",
		"Anchor":    flow.Anchor(),
		"Alias":     flow.Alias(),
		"Code":      flow.VerificationCode(),
		"Deadline":  flow.Deadline().UnixMilli(),
		"Remaining": flow.Status().Remaining,
		"StatusURI": utils.FlowURI(utils.VerifyURI, flow.ID(), "status"),
		"CancelURI": utils.FlowURI(utils.VerifyURI, flow.ID(), "cancel"),
		"DoneURI":   utils.FlowURI(utils.VerifyURI, flow.ID(), "done"),
	})
}

func VerifyStatus(c *fiber.Ctx) error {
	flow, ok := verificationFlow(c)
	if !ok {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "flow not found"})
	}
	noCache(c)
	return c.JSON(flow.Status())
}

// CancelVerification stops the flow without persisting anything.
func CancelVerification(c *fiber.Ctx) error {
	if flow, ok := verificationFlow(c); ok {
		objects.Manager.RemoveFlow(flow.ID())
	}
	return c.Redirect(utils.LandingURI, http.StatusSeeOther)
}

// VerifyDone applies the outcome of a finished verification flow.
func VerifyDone(c *fiber.Ctx) error {
	flow, ok := verificationFlow(c)
	if !ok {
		return flowNotFound(c)
	}
	outcome, done := flow.Outcome()
	if !done {
		return c.Redirect(utils.FlowURI(utils.VerifyURI, flow.ID()), http.StatusSeeOther)
	}
	objects.Manager.RemoveFlow(flow.ID())
	switch outcome.Kind {
	case models.OutcomeVerified:
		if err := objects.Manager.Sessions().PersistActiveAnchor(c, outcome.Anchor); err != nil {
			return unexpectedError(c, err)
		}
		objects.Manager.Audit(c, outcome.Anchor, models.OperationLogin, flow.Alias())
		return c.Redirect(utils.ManageURI, http.StatusSeeOther)
	case models.OutcomeTimedOut:
		return renderErrorPage(c, http.StatusRequestTimeout, ErrorOptions{
			Title:         "Timeout Reached",
			Message:       `The timeout has been reached. For security reasons the "add device" process has been aborted.`,
			PrimaryButton: "Ok",
			RetryURL:      utils.LandingURI,
		})
	case models.OutcomeFailed:
		return renderErrorPage(c, http.StatusBadGateway, ErrorOptions{
			Title:         "Device verification failed",
			Message:       "We could not check whether the device was verified.",
			Detail:        outcome.Detail,
			PrimaryButton: "Ok",
			RetryURL:      utils.LandingURI,
		})
	default:
		return c.Redirect(utils.LandingURI, http.StatusSeeOther)
	}
}
