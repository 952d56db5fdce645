package handlers

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/http/requests"
	"github.com/oarkflow/anchor/pkg/http/responses"
	"github.com/oarkflow/anchor/pkg/libs"
	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/objects"
	"github.com/oarkflow/anchor/pkg/utils"
)

func HealthCheck(c *fiber.Ctx) error {
	resp := fiber.Map{"status": "ok"}
	if provider, ok := objects.Manager.Connection().(contracts.ServiceInfoProvider); ok {
		if info, err := provider.ServiceInfo(c.UserContext()); err == nil {
			resp["service"] = info
		} else {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
		}
	}
	return c.JSON(resp)
}

func LandingPage(c *fiber.Ctx) error {
	if _, ok := objects.Manager.Sessions().ReadActiveAnchor(c); ok {
		return c.Redirect(utils.ManageURI, http.StatusSeeOther)
	}
	return responses.Render(c, utils.LandingTemplate, fiber.Map{
		"Title":        objects.Config.GetString("app.name", "Anchor"),
		"Registration": objects.Config.GetBool("app.registration", true),
	})
}

// LoginPage issues a fresh challenge the security device signs to sign in.
func LoginPage(c *fiber.Ctx) error {
	id, nonce, err := objects.Manager.Challenges().Issue()
	if err != nil {
		return unexpectedError(c, err)
	}
	enableHTTPS := objects.Config.GetBool("app.https")
	appEnv := objects.Config.GetString("app.env")
	c.Cookie(utils.GetCookie(enableHTTPS, appEnv, utils.ChallengeCookie, id))
	noCache(c)
	return responses.Render(c, utils.LoginTemplate, fiber.Map{
		"Title":        "Sign in",
		"Anchor":       c.Query("anchor"),
		"CredentialID": c.Cookies(utils.DeviceCookie),
		"Challenge":    hex.EncodeToString(nonce),
		"Error":        c.Query("error"),
	})
}

// loginResult is either an anchor or a known error to show with a retry.
type loginResult struct {
	anchor models.AnchorNumber
	err    *ErrorOptions
}

func loginErr(title, message string) loginResult {
	return loginResult{err: &ErrorOptions{
		Title:         title,
		Message:       message,
		PrimaryButton: "Try again",
		RetryURL:      utils.LoginURI,
	}}
}

// findDevice returns the device holding exactly the credential id.
func findDevice(devices []models.DeviceData, credentialID models.CredentialID) (models.DeviceData, bool) {
	for _, device := range devices {
		if id, ok := device.SingleCredentialID(); ok && id.Equal(credentialID) {
			return device, true
		}
	}
	return models.DeviceData{}, false
}

// loginSignature is the signature posted by the browser, or one made with
// the software credential key this browser keeps.
func loginSignature(c *fiber.Ctx, req requests.LoginRequest, nonce []byte) []byte {
	if req.Signature != "" {
		sig, err := hex.DecodeString(req.Signature)
		if err != nil {
			return nil
		}
		return sig
	}
	if !objects.Config.GetBool("anchor.software_authenticator", false) {
		return nil
	}
	seed, ok := objects.Manager.Sessions().ReadDeviceKey(c)
	if !ok {
		return nil
	}
	sig, err := libs.SignWithSeed(seed, nonce)
	if err != nil {
		return nil
	}
	return sig
}

// tryLogin signs in when the device holding the credential id signed the
// challenge. A missing nonce means the challenge expired or was used.
func tryLogin(c *fiber.Ctx, req requests.LoginRequest, nonce []byte) (loginResult, error) {
	anchor, err := utils.ParseAnchorNumber(req.Anchor)
	if err != nil {
		return loginErr("Invalid User Number", "Please enter a valid User Number."), nil
	}
	key := strconv.FormatUint(anchor, 10)
	if objects.Manager.Security().IsLoginBlocked(key) {
		return loginErr("Too many attempts", "Too many failed sign-in attempts. Please wait before trying again."), nil
	}
	credentialID, err := hex.DecodeString(req.CredentialID)
	if err != nil || len(credentialID) == 0 {
		return loginErr("Failed to authenticate", "This browser holds no credential for that User Number."), nil
	}
	devices, err := objects.Manager.Connection().LookupAuthenticators(c.UserContext(), anchor)
	if err != nil {
		return loginResult{}, err
	}
	if len(devices) == 0 {
		return loginErr("Unknown User Number", fmt.Sprintf("Failed to find an identity for the User Number %d.", anchor)), nil
	}
	if nonce == nil {
		return loginErr("Sign-in expired", "The sign-in request expired. Please try again."), nil
	}
	device, ok := findDevice(devices, credentialID)
	if !ok || libs.VerifySignature(device.PubKey, nonce, loginSignature(c, req, nonce)) != nil {
		objects.Manager.Security().RecordFailedLogin(key)
		return loginErr("Failed to authenticate", "We failed to authenticate you using your security device."), nil
	}
	objects.Manager.Security().ClearLoginAttempts(key)
	return loginResult{anchor: anchor}, nil
}

func PostLogin(c *fiber.Ctx) error {
	nonce, _ := objects.Manager.Challenges().Consume(c.Cookies(utils.ChallengeCookie))
	c.ClearCookie(utils.ChallengeCookie)
	var req requests.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return renderErrorPage(c, http.StatusBadRequest, ErrorOptions{
			Title:         "Invalid Form Data",
			Message:       "The form data could not be processed.",
			Detail:        err.Error(),
			PrimaryButton: "Try again",
			RetryURL:      utils.LoginURI,
		})
	}
	result, err := tryLogin(c, req, nonce)
	if err != nil {
		objects.Manager.Sessions().Clear(c)
		return renderErrorPage(c, http.StatusInternalServerError, ErrorOptions{
			Title:         "Something went wrong",
			Message:       "An unexpected error occurred during authentication. Please try again",
			Detail:        err.Error(),
			PrimaryButton: "Try again",
			RetryURL:      utils.LandingURI,
		})
	}
	if result.err != nil {
		return renderErrorPage(c, http.StatusUnauthorized, *result.err)
	}
	if err := objects.Manager.Sessions().PersistActiveAnchor(c, result.anchor); err != nil {
		return unexpectedError(c, err)
	}
	objects.Manager.Audit(c, result.anchor, models.OperationLogin, "")
	return c.Redirect(utils.ManageURI, http.StatusSeeOther)
}

func LogoutPage(c *fiber.Ctx) error {
	return responses.Render(c, utils.LogoutTemplate, fiber.Map{
		"Title": "Sign out",
	})
}

func PostLogout(c *fiber.Ctx) error {
	if anchor, ok := objects.Manager.Sessions().ReadActiveAnchor(c); ok {
		objects.Manager.LogoutTracker().SetLogout(anchor)
		objects.Manager.Audit(c, anchor, models.OperationLogout, "")
	}
	objects.Manager.Sessions().Clear(c)
	noCache(c)
	return c.Redirect(utils.LandingURI, http.StatusSeeOther)
}

func RegisterPage(c *fiber.Ctx) error {
	if !objects.Config.GetBool("app.registration", true) {
		return registerDisabled(c)
	}
	return responses.Render(c, utils.RegisterTemplate, fiber.Map{
		"Title":    "Create a new Identity Anchor",
		"Software": objects.Config.GetBool("anchor.software_authenticator", false),
	})
}

func registerDisabled(c *fiber.Ctx) error {
	c.Status(http.StatusForbidden)
	return responses.Render(c, utils.RegisterDisabledTemplate, fiber.Map{
		"Title": "Registration Disabled",
	})
}

func PostRegister(c *fiber.Ctx) error {
	if !objects.Config.GetBool("app.registration", true) {
		return registerDisabled(c)
	}
	var req requests.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return renderErrorPage(c, http.StatusBadRequest, ErrorOptions{
			Title:         "Invalid Form Data",
			Message:       "The form data you submitted could not be processed.",
			Detail:        err.Error(),
			PrimaryButton: "Try again",
			RetryURL:      utils.RegisterURI,
		})
	}
	cred, err := credentialCreator(req.PubKey, req.RawID).Create(c.UserContext())
	if err != nil {
		return authenticateError(c, err, utils.RegisterURI)
	}
	device := newDevice(req.Alias, cred)
	anchor, err := objects.Manager.Connection().CreateAnchor(c.UserContext(), device)
	if err != nil {
		if errors.Is(err, contracts.ErrDeviceExists) {
			return renderErrorPage(c, http.StatusConflict, ErrorOptions{
				Title:         "Device already registered",
				Message:       "This security device is already registered to an Identity Anchor.",
				PrimaryButton: "Ok",
				RetryURL:      utils.LoginURI,
			})
		}
		return unexpectedError(c, err)
	}
	if err := objects.Manager.Sessions().PersistActiveAnchor(c, anchor); err != nil {
		return unexpectedError(c, err)
	}
	rememberDevice(c, cred)
	objects.Manager.Audit(c, anchor, models.OperationRegisterAnchor, device.Alias)
	return c.Redirect(fmt.Sprintf("%s?registered=%d", utils.ManageURI, anchor), http.StatusSeeOther)
}
