package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/oarkflow/anchor/pkg/http/handlers"
	"github.com/oarkflow/anchor/pkg/http/middlewares"
	"github.com/oarkflow/anchor/pkg/utils"
)

func Setup(prefix string, router fiber.Router) {
	route := router.Group(prefix)
	route.Get(utils.HealthURI, handlers.HealthCheck)

	route.Use(middlewares.Migrating, middlewares.RequireConnection)
	route.Get(utils.LandingURI, handlers.LandingPage)
	route.Get(utils.LoginURI, handlers.LoginPage)
	route.Post(utils.LoginURI, middlewares.RateLimit, handlers.PostLogin)
	route.Get(utils.LogoutURI, handlers.LogoutPage)
	route.Post(utils.LogoutURI, handlers.PostLogout)
	route.Get(utils.RegisterURI, handlers.RegisterPage)
	route.Post(utils.RegisterURI, middlewares.RateLimit, handlers.PostRegister)

	route.Get(utils.AddDeviceURI, handlers.AddDevicePage)
	route.Post(utils.AddDeviceURI, middlewares.RateLimit, handlers.PostAddDevice)
	route.Get(utils.AddDeviceURI+"/:flow", handlers.DeviceLinkPage)
	route.Get(utils.AddDeviceURI+"/:flow/status", handlers.DeviceLinkStatus)
	route.Get(utils.AddDeviceURI+"/:flow/qr.png", handlers.DeviceLinkQRCode)
	route.Post(utils.AddDeviceURI+"/:flow/cancel", handlers.CancelDeviceLink)
	route.Get(utils.AddDeviceURI+"/:flow/done", handlers.DeviceLinkDone)

	route.Post(utils.TentativeURI, middlewares.RateLimit, handlers.PostTentative)
	route.Get(utils.VerifyURI+"/:flow", handlers.VerifyDevicePage)
	route.Get(utils.VerifyURI+"/:flow/status", handlers.VerifyStatus)
	route.Post(utils.VerifyURI+"/:flow/cancel", handlers.CancelVerification)
	route.Get(utils.VerifyURI+"/:flow/done", handlers.VerifyDone)

	route.Get(utils.LogsURI, handlers.GetLogs)
}

func ProtectedRoutes(route fiber.Router) {
	route.Get(utils.ManageURI, handlers.ManagePage)
	route.Post(utils.RegistrationModeURI, handlers.PostRegistrationMode)
	route.Post(utils.ManageVerifyURI, middlewares.RateLimit, handlers.PostVerifyCode)
	route.Get(utils.ManageLinkURI, handlers.LinkDevicePage)
	route.Post(utils.ManageLinkURI, handlers.PostLinkDevice)
	route.Get(utils.AnchorLogsURI, handlers.GetAnchorLogs)
}

// LedgerRoutes serves the in-memory ledger to other front ends.
func LedgerRoutes(route fiber.Router) {
	route.Get("/info", handlers.APIServiceInfo)
	route.Post("/anchors", handlers.APICreateAnchor)
	route.Get("/anchors/:anchor", handlers.APIGetAnchorInfo)
	route.Get("/anchors/:anchor/authenticators", handlers.APILookupAuthenticators)
	route.Get("/anchors/:anchor/devices", handlers.APILookup)
	route.Post("/anchors/:anchor/devices", handlers.APIAddDevice)
	route.Post("/anchors/:anchor/registration-mode", handlers.APIEnterRegistrationMode)
	route.Post("/anchors/:anchor/tentative-device", handlers.APIAddTentativeDevice)
	route.Post("/anchors/:anchor/tentative-device/verify", handlers.APIVerifyTentativeDevice)
}
