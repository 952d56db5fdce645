package requests

// Signature is the hex signature of the login challenge by the device
// holding CredentialID.
type LoginRequest struct {
	Anchor       string `json:"anchor" form:"anchor"`
	CredentialID string `json:"credential_id" form:"credential_id"`
	Signature    string `json:"signature" form:"signature"`
}

// Credential fields are hex. When they are empty the server may create a
// credential itself.
type RegisterRequest struct {
	Alias  string `json:"alias" form:"alias"`
	PubKey string `json:"pub_key" form:"pub_key"`
	RawID  string `json:"raw_id" form:"raw_id"`
}

type AddDeviceRequest struct {
	Anchor string `json:"anchor" form:"anchor"`
	PubKey string `json:"pub_key" form:"pub_key"`
	RawID  string `json:"raw_id" form:"raw_id"`
}

type TentativeRequest struct {
	Anchor string `json:"anchor" form:"anchor"`
	Alias  string `json:"alias" form:"alias"`
	PubKey string `json:"pub_key" form:"pub_key"`
	RawID  string `json:"raw_id" form:"raw_id"`
}

type VerifyCodeRequest struct {
	Code string `json:"code" form:"code"`
}

type LinkDeviceRequest struct {
	Device string `json:"device" form:"device"`
	Alias  string `json:"alias" form:"alias"`
}
