package handlers

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/libs"
	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/objects"
	"github.com/oarkflow/anchor/pkg/utils"
)

const (
	defaultAlias    = "New device"
	deviceCookieAge = 365 * 24 * 60 * 60
)

// credentialCreator picks the credential posted by the browser, or a server
// side one when none was posted and the software authenticator is enabled.
func credentialCreator(pubKeyHex, rawIDHex string) contracts.CredentialCreator {
	if strings.TrimSpace(pubKeyHex) == "" && objects.Config.GetBool("anchor.software_authenticator", false) {
		return libs.SoftwareAuthenticator{}
	}
	return libs.StaticCredential{PubKeyHex: pubKeyHex, RawIDHex: rawIDHex}
}

func newDevice(alias string, cred models.Credential) models.DeviceData {
	alias = utils.SanitizeInput(alias)
	if alias == "" {
		alias = defaultAlias
	}
	return models.DeviceData{
		Alias:        alias,
		PubKey:       cred.PubKey,
		CredentialID: []models.CredentialID{cred.RawID},
		Purpose:      models.PurposeAuthentication,
		KeyType:      models.KeyTypeUnknown,
		Protection:   models.Unprotected,
	}
}

// rememberDevice keeps the raw credential id so the login form can offer
// it. A software credential also leaves its key with the browser.
func rememberDevice(c *fiber.Ctx, cred models.Credential) {
	enableHTTPS := objects.Config.GetBool("app.https")
	appEnv := objects.Config.GetString("app.env")
	c.Cookie(utils.GetCookie(enableHTTPS, appEnv, utils.DeviceCookie, hex.EncodeToString(cred.RawID), deviceCookieAge))
	if len(cred.Seed) == 0 {
		return
	}
	if err := objects.Manager.Sessions().PersistDeviceKey(c, cred.Seed); err != nil {
		objects.Manager.Logger().Error("failed to store device key", zap.Error(err))
	}
}

// browserID returns the id flows started by this browser are bound to,
// issuing one on first use.
func browserID(c *fiber.Ctx) string {
	if id := c.Cookies(utils.BrowserCookie); id != "" {
		return id
	}
	id := uuid.NewString()
	enableHTTPS := objects.Config.GetBool("app.https")
	appEnv := objects.Config.GetString("app.env")
	c.Cookie(utils.GetCookie(enableHTTPS, appEnv, utils.BrowserCookie, id, deviceCookieAge))
	return id
}

func addDeviceRetryURI(anchor models.AnchorNumber) string {
	return fmt.Sprintf("%s?anchor=%d", utils.AddDeviceURI, anchor)
}

func noCache(c *fiber.Ctx) {
	c.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Set("Pragma", "no-cache")
	c.Set("Expires", "0")
}
