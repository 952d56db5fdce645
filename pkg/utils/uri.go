package utils

var (
	LandingURI          = "/"
	HealthURI           = "/health"
	LoginURI            = "/login"
	LogoutURI           = "/logout"
	RegisterURI         = "/register"
	ManageURI           = "/manage"
	ManageVerifyURI     = "/manage/verify"
	RegistrationModeURI = "/manage/registration-mode"
	ManageLinkURI       = "/manage/link"
	AddDeviceURI        = "/add-device"
	TentativeURI        = "/tentative"
	VerifyURI           = "/verify"
	LogsURI             = "/api/logs"
	AnchorLogsURI       = "/api/anchors/:anchor/logs"
	APIPrefix           = "/api/v1"
)

var (
	LandingTemplate          = "anchor/index"
	LoginTemplate            = "anchor/login"
	RegisterTemplate         = "anchor/register"
	RegisterDisabledTemplate = "anchor/register-disabled"
	ManageTemplate           = "anchor/manage"
	LinkDeviceTemplate       = "anchor/link-device"
	AddDeviceTemplate        = "anchor/add-device"
	DeviceLinkTemplate       = "anchor/device-link"
	VerifyDeviceTemplate     = "anchor/verify-device"
	LogoutTemplate           = "anchor/logout"
	ErrorTemplate            = "anchor/error"
)

func GetURIs() map[string]string {
	return map[string]string{
		"Landing":          LandingURI,
		"Health":           HealthURI,
		"Login":            LoginURI,
		"Logout":           LogoutURI,
		"Register":         RegisterURI,
		"Manage":           ManageURI,
		"ManageVerify":     ManageVerifyURI,
		"RegistrationMode": RegistrationModeURI,
		"ManageLink":       ManageLinkURI,
		"AddDevice":        AddDeviceURI,
		"Tentative":        TentativeURI,
		"Verify":           VerifyURI,
		"Logs":             LogsURI,
	}
}

// FlowURI returns the page of a running flow under base.
func FlowURI(base, id string, suffix ...string) string {
	uri := base + "/" + id
	for _, s := range suffix {
		uri += "/" + s
	}
	return uri
}

var DefaultSessionName = "anchor_session"

// DeviceCookie remembers the credential id this browser registered.
var DeviceCookie = "anchor_device"

// DeviceKeyCookie holds the encrypted key of a software credential.
var DeviceKeyCookie = "anchor_device_key"

// ChallengeCookie names the sign-in challenge the login form answers.
var ChallengeCookie = "anchor_challenge"

// BrowserCookie binds verification and device-link flows to the browser
// that started them.
var BrowserCookie = "anchor_browser"
