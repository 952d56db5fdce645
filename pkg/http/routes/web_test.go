package routes

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oarkflow/squealx/drivers/sqlite"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/http/middlewares"
	"github.com/oarkflow/anchor/pkg/ledger"
	"github.com/oarkflow/anchor/pkg/libs"
	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/objects"
	"github.com/oarkflow/anchor/pkg/storage"
	"github.com/oarkflow/anchor/pkg/utils"
)

type mapConfig map[string]any

func (m mapConfig) Env(name string, defaultValue ...any) any { return m.Get(name, defaultValue...) }

func (m mapConfig) Add(name string, configuration any) { m[name] = configuration }

func (m mapConfig) Get(path string, defaultValue ...any) any {
	if v, ok := m[path]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return nil
}

func (m mapConfig) GetString(path string, defaultValue ...any) string {
	if v, ok := m.Get(path, defaultValue...).(string); ok {
		return v
	}
	return ""
}

func (m mapConfig) GetInt(path string, defaultValue ...any) int {
	if v, ok := m.Get(path, defaultValue...).(int); ok {
		return v
	}
	return 0
}

func (m mapConfig) GetDuration(path string, defaultValue ...any) time.Duration {
	if v, ok := m.Get(path, defaultValue...).(time.Duration); ok {
		return v
	}
	return 0
}

func (m mapConfig) GetBool(path string, defaultValue ...any) bool {
	if v, ok := m.Get(path, defaultValue...).(bool); ok {
		return v
	}
	return false
}

// nameViews renders the template name followed by the page title, and the
// sign-in challenge when the page carries one.
type nameViews struct{}

func (nameViews) Load() error { return nil }

func (nameViews) Render(w io.Writer, name string, binding any, _ ...string) error {
	title := ""
	challenge := ""
	switch data := binding.(type) {
	case fiber.Map:
		title, _ = data["Title"].(string)
		challenge, _ = data["Challenge"].(string)
	case models.ErrorPageData:
		title = data.Title
	}
	if challenge != "" {
		_, err := fmt.Fprintf(w, "%s|%s|%s", name, title, challenge)
		return err
	}
	_, err := fmt.Fprintf(w, "%s|%s", name, title)
	return err
}

type testEnv struct {
	app    *fiber.App
	ledger *ledger.Ledger
	cfg    mapConfig
	mgr    *libs.Manager
}

type envOption func(cfg *libs.Config, conn *contracts.Connection)

func withLinkTimeout(d time.Duration) envOption {
	return func(cfg *libs.Config, _ *contracts.Connection) {
		cfg.LinkTimeout = d
	}
}

// failingAuthenticators makes every authenticator lookup fail.
type failingAuthenticators struct {
	contracts.Connection
}

func (failingAuthenticators) LookupAuthenticators(context.Context, models.AnchorNumber) ([]models.DeviceData, error) {
	return nil, errors.New("canister unreachable")
}

func withFailingAuthenticators() envOption {
	return func(_ *libs.Config, conn *contracts.Connection) {
		*conn = failingAuthenticators{Connection: *conn}
	}
}

func newEnv(t *testing.T, withConnection bool, opts ...envOption) *testEnv {
	t.Helper()
	cfg := mapConfig{
		"app.name":                       "Anchor",
		"app.env":                        "test",
		"app.registration":               true,
		"anchor.software_authenticator": true,
		"anchor.rate_limit_requests":     100,
	}
	objects.Config = cfg
	objects.ViewEngine = nameViews{}
	objects.Layout = "layouts/main"

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "activity.db"), "sqlite")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logs, err := storage.NewDatabaseStorage(db)
	if err != nil {
		t.Fatal(err)
	}

	l, err := ledger.New()
	if err != nil {
		t.Fatal(err)
	}
	var conn contracts.Connection
	if withConnection {
		conn = l
	}
	mgrCfg := &libs.Config{
		Env:            "test",
		Secret:         []byte("OdR4DlWhZk6osDd0qXLdVT88lHOvj14L"),
		SessionName:    utils.DefaultSessionName,
		SessionTimeout: time.Hour,
		PollDelay:      10 * time.Millisecond,
		CountdownTick:  10 * time.Millisecond,
		LinkInterval:   10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(mgrCfg, &conn)
	}
	mgr := libs.NewManager(conn, logs, mgrCfg, nil)
	t.Cleanup(func() { mgr.Close() })
	objects.Manager = mgr

	app := fiber.New()
	Setup("/", app)
	LedgerRoutes(app.Group(utils.APIPrefix))
	ProtectedRoutes(app.Group("/", middlewares.RequireSession))
	return &testEnv{app: app, ledger: l, cfg: cfg, mgr: mgr}
}

func (e *testEnv) do(t *testing.T, req *http.Request, cookies ...*http.Cookie) (*http.Response, string) {
	t.Helper()
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := e.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, string(body)
}

func (e *testEnv) get(t *testing.T, target string, cookies ...*http.Cookie) (*http.Response, string) {
	return e.do(t, httptest.NewRequest(http.MethodGet, target, nil), cookies...)
}

func (e *testEnv) postForm(t *testing.T, target string, form url.Values, cookies ...*http.Cookie) (*http.Response, string) {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
	return e.do(t, req, cookies...)
}

func cookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func expectRedirect(t *testing.T, resp *http.Response, prefix string) string {
	t.Helper()
	if resp.StatusCode != http.StatusSeeOther && resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want redirect", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if !strings.HasPrefix(loc, prefix) {
		t.Fatalf("Location = %q, want prefix %q", loc, prefix)
	}
	return loc
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("flow did not finish")
	}
}

// challenge opens the login page and returns the challenge cookie with the
// nonce the page asks the device to sign.
func (e *testEnv) challenge(t *testing.T) (*http.Cookie, []byte) {
	t.Helper()
	resp, body := e.get(t, utils.LoginURI)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login page status = %d", resp.StatusCode)
	}
	c := cookie(resp, utils.ChallengeCookie)
	parts := strings.Split(body, "|")
	if c == nil || len(parts) != 3 {
		t.Fatalf("login page = %q, cookies = %v", body, resp.Cookies())
	}
	nonce, err := hex.DecodeString(parts[2])
	if err != nil {
		t.Fatal(err)
	}
	return c, nonce
}

// createKeyAnchor registers an anchor whose device holds a real ed25519 key.
func createKeyAnchor(t *testing.T, l *ledger.Ledger) (models.AnchorNumber, models.CredentialID, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	credentialID := models.CredentialID{0x0a, 0x0b}
	anchor, err := l.CreateAnchor(context.Background(), models.DeviceData{
		Alias:        "key",
		PubKey:       der,
		CredentialID: []models.CredentialID{credentialID},
		Purpose:      models.PurposeAuthentication,
	})
	if err != nil {
		t.Fatal(err)
	}
	return anchor, credentialID, priv
}

func createAnchor(t *testing.T, l *ledger.Ledger, alias string, id byte) models.AnchorNumber {
	t.Helper()
	anchor, err := l.CreateAnchor(context.Background(), models.DeviceData{
		Alias:        alias,
		PubKey:       []byte{0x30, id},
		CredentialID: []models.CredentialID{{id}},
		Purpose:      models.PurposeAuthentication,
	})
	if err != nil {
		t.Fatal(err)
	}
	return anchor
}

func TestHealthCheck(t *testing.T) {
	env := newEnv(t, true)
	resp, body := env.get(t, utils.HealthURI)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var health struct {
		Status  string             `json:"status"`
		Service models.ServiceInfo `json:"service"`
	}
	if err := json.Unmarshal([]byte(body), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Service.Name != "ledger" {
		t.Fatalf("health = %+v", health)
	}
}

func TestRegisterLoginLogout(t *testing.T) {
	env := newEnv(t, true)

	resp, _ := env.postForm(t, utils.RegisterURI, url.Values{"alias": {"laptop"}})
	loc := expectRedirect(t, resp, utils.ManageURI+"?registered=")
	session := cookie(resp, utils.DefaultSessionName)
	device := cookie(resp, utils.DeviceCookie)
	deviceKey := cookie(resp, utils.DeviceKeyCookie)
	if session == nil || device == nil || deviceKey == nil {
		t.Fatalf("cookies = %v", resp.Cookies())
	}
	anchor := strings.TrimPrefix(loc, utils.ManageURI+"?registered=")

	resp, body := env.get(t, utils.ManageURI, session)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(body, utils.ManageTemplate) {
		t.Fatalf("manage = %d %q", resp.StatusCode, body)
	}

	resp, _ = env.postForm(t, utils.LogoutURI, nil, session)
	expectRedirect(t, resp, utils.LandingURI)
	if c := cookie(resp, utils.DefaultSessionName); c == nil || c.Value != "" {
		t.Fatalf("session cookie not cleared: %v", c)
	}

	resp, _ = env.get(t, utils.ManageURI)
	expectRedirect(t, resp, utils.LoginURI)

	challenge, _ := env.challenge(t)
	resp, _ = env.postForm(t, utils.LoginURI, url.Values{"anchor": {anchor}, "credential_id": {device.Value}}, challenge, deviceKey)
	expectRedirect(t, resp, utils.ManageURI)
	if cookie(resp, utils.DefaultSessionName) == nil {
		t.Fatal("login did not set a session")
	}

	resp, body = env.get(t, utils.LogsURI)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs status = %d", resp.StatusCode)
	}
	var logs models.Logs
	if err := json.Unmarshal([]byte(body), &logs); err != nil {
		t.Fatal(err)
	}
	var ops []models.Operation
	for _, entry := range logs.Entries {
		ops = append(ops, entry.Operation)
	}
	want := []models.Operation{models.OperationRegisterAnchor, models.OperationLogout, models.OperationLogin}
	if len(ops) != len(want) {
		t.Fatalf("operations = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("operations = %v, want %v", ops, want)
		}
	}
}

func TestLoginWithUnknownCredential(t *testing.T) {
	env := newEnv(t, true)
	anchor := createAnchor(t, env.ledger, "laptop", 1)

	challenge, _ := env.challenge(t)
	resp, body := env.postForm(t, utils.LoginURI, url.Values{
		"anchor":        {fmt.Sprint(anchor)},
		"credential_id": {"ff"},
	}, challenge)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body != utils.ErrorTemplate+"|Failed to authenticate" {
		t.Fatalf("body = %q", body)
	}

	resp, body = env.postForm(t, utils.LoginURI, url.Values{"anchor": {"abc"}})
	if resp.StatusCode != http.StatusUnauthorized || body != utils.ErrorTemplate+"|Invalid User Number" {
		t.Fatalf("invalid anchor = %d %q", resp.StatusCode, body)
	}
}

func TestLoginRejectsCredentialIDWithoutSignature(t *testing.T) {
	env := newEnv(t, true)
	anchor, credentialID, _ := createKeyAnchor(t, env.ledger)
	form := url.Values{
		"anchor":        {fmt.Sprint(anchor)},
		"credential_id": {hex.EncodeToString(credentialID)},
	}

	challenge, _ := env.challenge(t)
	resp, body := env.postForm(t, utils.LoginURI, form, challenge)
	if resp.StatusCode != http.StatusUnauthorized || body != utils.ErrorTemplate+"|Failed to authenticate" {
		t.Fatalf("login without signature = %d %q", resp.StatusCode, body)
	}
	if c := cookie(resp, utils.DefaultSessionName); c != nil && c.Value != "" {
		t.Fatal("login without signature issued a session")
	}

	challenge, _ = env.challenge(t)
	form.Set("signature", hex.EncodeToString(make([]byte, ed25519.SignatureSize)))
	resp, body = env.postForm(t, utils.LoginURI, form, challenge)
	if resp.StatusCode != http.StatusUnauthorized || body != utils.ErrorTemplate+"|Failed to authenticate" {
		t.Fatalf("login with a bogus signature = %d %q", resp.StatusCode, body)
	}
}

func TestLoginWithSignedChallenge(t *testing.T) {
	env := newEnv(t, true)
	anchor, credentialID, priv := createKeyAnchor(t, env.ledger)

	challenge, nonce := env.challenge(t)
	form := url.Values{
		"anchor":        {fmt.Sprint(anchor)},
		"credential_id": {hex.EncodeToString(credentialID)},
		"signature":     {hex.EncodeToString(ed25519.Sign(priv, nonce))},
	}
	resp, _ := env.postForm(t, utils.LoginURI, form, challenge)
	expectRedirect(t, resp, utils.ManageURI)
	if c := cookie(resp, utils.DefaultSessionName); c == nil || c.Value == "" {
		t.Fatal("signed login did not set a session")
	}

	// A challenge answers one login only.
	resp, body := env.postForm(t, utils.LoginURI, form, challenge)
	if resp.StatusCode != http.StatusUnauthorized || body != utils.ErrorTemplate+"|Sign-in expired" {
		t.Fatalf("replayed login = %d %q", resp.StatusCode, body)
	}
}

func TestLoginUnexpectedErrorClearsSession(t *testing.T) {
	env := newEnv(t, true, withFailingAuthenticators())
	anchor := createAnchor(t, env.ledger, "laptop", 1)
	session, err := env.mgr.Sessions().(*libs.SessionStore).Issue(anchor)
	if err != nil {
		t.Fatal(err)
	}

	challenge, _ := env.challenge(t)
	resp, body := env.postForm(t, utils.LoginURI, url.Values{
		"anchor":        {fmt.Sprint(anchor)},
		"credential_id": {"01"},
	}, challenge, &http.Cookie{Name: utils.DefaultSessionName, Value: session})
	if resp.StatusCode != http.StatusInternalServerError || body != utils.ErrorTemplate+"|Something went wrong" {
		t.Fatalf("login = %d %q", resp.StatusCode, body)
	}
	if c := cookie(resp, utils.DefaultSessionName); c == nil || c.Value != "" {
		t.Fatalf("session cookie not cleared: %v", c)
	}
}

func TestRegisterKeepsAliasRaw(t *testing.T) {
	env := newEnv(t, true)
	resp, _ := env.postForm(t, utils.RegisterURI, url.Values{"alias": {"  a<b & \"c\"  "}})
	loc := expectRedirect(t, resp, utils.ManageURI+"?registered=")
	anchor, err := utils.ParseAnchorNumber(strings.TrimPrefix(loc, utils.ManageURI+"?registered="))
	if err != nil {
		t.Fatal(err)
	}
	devices, err := env.ledger.Lookup(context.Background(), anchor)
	if err != nil || len(devices) != 1 {
		t.Fatalf("devices = %v, %v", devices, err)
	}
	if devices[0].Alias != `a<b & "c"` {
		t.Fatalf("alias = %q", devices[0].Alias)
	}
}

func TestLoginErrorAsJSON(t *testing.T) {
	env := newEnv(t, true)
	req := httptest.NewRequest(http.MethodPost, utils.LoginURI, strings.NewReader(`{"anchor":"99999","credential_id":"01"}`))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	req.Header.Set("Accept", fiber.MIMEApplicationJSON)
	resp, body := env.do(t, req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var page models.ErrorPageData
	if err := json.Unmarshal([]byte(body), &page); err != nil {
		t.Fatal(err)
	}
	if page.Title != "Unknown User Number" || page.RetryURL != utils.LoginURI || page.ButtonLabel != "Try again" {
		t.Fatalf("page = %+v", page)
	}
}

func TestRegistrationDisabled(t *testing.T) {
	env := newEnv(t, true)
	env.cfg["app.registration"] = false

	resp, body := env.get(t, utils.RegisterURI)
	if resp.StatusCode != http.StatusForbidden || !strings.HasPrefix(body, utils.RegisterDisabledTemplate) {
		t.Fatalf("register = %d %q", resp.StatusCode, body)
	}
	resp, _ = env.postForm(t, utils.RegisterURI, url.Values{"alias": {"laptop"}})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("post register status = %d", resp.StatusCode)
	}
}

func TestMigratingGate(t *testing.T) {
	env := newEnv(t, true)
	env.cfg["app.migrating"] = true

	resp, body := env.get(t, utils.LoginURI)
	if resp.StatusCode != http.StatusServiceUnavailable || body != utils.ErrorTemplate+"|Men At Work 👷" {
		t.Fatalf("login = %d %q", resp.StatusCode, body)
	}
	resp, _ = env.get(t, utils.HealthURI)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}

func TestMissingEndpoint(t *testing.T) {
	env := newEnv(t, false)
	resp, body := env.get(t, utils.LandingURI)
	if resp.StatusCode != http.StatusServiceUnavailable || body != utils.ErrorTemplate+"|Service endpoint not set" {
		t.Fatalf("landing = %d %q", resp.StatusCode, body)
	}
}

func TestTentativeDeviceVerification(t *testing.T) {
	env := newEnv(t, true)
	ctx := context.Background()
	anchor := createAnchor(t, env.ledger, "laptop", 1)

	resp, body := env.postForm(t, utils.TentativeURI, url.Values{"anchor": {fmt.Sprint(anchor)}, "alias": {"phone"}})
	if resp.StatusCode != http.StatusBadRequest || body != utils.ErrorTemplate+"|Device registration is off" {
		t.Fatalf("tentative without registration mode = %d %q", resp.StatusCode, body)
	}

	if _, err := env.ledger.EnterDeviceRegistrationMode(ctx, anchor); err != nil {
		t.Fatal(err)
	}
	resp, _ = env.postForm(t, utils.TentativeURI, url.Values{"anchor": {fmt.Sprint(anchor)}, "alias": {"phone"}})
	loc := expectRedirect(t, resp, utils.VerifyURI+"/")
	id := strings.TrimPrefix(loc, utils.VerifyURI+"/")
	browser := cookie(resp, utils.BrowserCookie)
	if browser == nil {
		t.Fatal("flow not bound to the browser")
	}

	resp, body = env.get(t, loc, browser)
	if resp.StatusCode != http.StatusOK || body != utils.VerifyDeviceTemplate+"|Device Verification Required" {
		t.Fatalf("verify page = %d %q", resp.StatusCode, body)
	}

	resp, _ = env.get(t, utils.FlowURI(utils.VerifyURI, id, "done"), browser)
	expectRedirect(t, resp, loc)

	flow, ok := env.mgr.Flow(id, browser.Value)
	if !ok {
		t.Fatal("flow not registered")
	}
	vf := flow.(contracts.VerificationFlow)
	if err := env.ledger.VerifyTentativeDevice(ctx, anchor, vf.VerificationCode()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, vf.Done())

	resp, body = env.get(t, utils.FlowURI(utils.VerifyURI, id, "status"), browser)
	var status models.FlowStatus
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		t.Fatal(err)
	}
	if !status.Done || status.Outcome == nil || status.Outcome.Kind != models.OutcomeVerified {
		t.Fatalf("status = %+v", status)
	}

	resp, _ = env.get(t, utils.FlowURI(utils.VerifyURI, id, "done"), browser)
	expectRedirect(t, resp, utils.ManageURI)
	if cookie(resp, utils.DefaultSessionName) == nil {
		t.Fatal("verified device got no session")
	}
	if _, ok := env.mgr.Flow(id, browser.Value); ok {
		t.Fatal("finished flow still registered")
	}
}

func TestCancelVerification(t *testing.T) {
	env := newEnv(t, true)
	anchor := createAnchor(t, env.ledger, "laptop", 1)
	if _, err := env.ledger.EnterDeviceRegistrationMode(context.Background(), anchor); err != nil {
		t.Fatal(err)
	}
	resp, _ := env.postForm(t, utils.TentativeURI, url.Values{"anchor": {fmt.Sprint(anchor)}})
	loc := expectRedirect(t, resp, utils.VerifyURI+"/")
	id := strings.TrimPrefix(loc, utils.VerifyURI+"/")
	browser := cookie(resp, utils.BrowserCookie)
	flow, ok := env.mgr.Flow(id, browser.Value)
	if !ok {
		t.Fatal("flow not registered")
	}

	// Another browser cannot cancel the flow.
	resp, _ = env.postForm(t, utils.FlowURI(utils.VerifyURI, id, "cancel"), nil)
	expectRedirect(t, resp, utils.LandingURI)
	if _, done := flow.Outcome(); done {
		t.Fatal("flow cancelled by another browser")
	}

	resp, _ = env.postForm(t, utils.FlowURI(utils.VerifyURI, id, "cancel"), nil, browser)
	expectRedirect(t, resp, utils.LandingURI)
	waitDone(t, flow.Done())
	if outcome, _ := flow.Outcome(); outcome.Kind != models.OutcomeCancelled {
		t.Fatalf("outcome = %+v", outcome)
	}
	resp, body := env.get(t, loc, browser)
	if resp.StatusCode != http.StatusNotFound || body != utils.ErrorTemplate+"|Page expired" {
		t.Fatalf("expired page = %d %q", resp.StatusCode, body)
	}
}

func TestAddDeviceWithoutAnchor(t *testing.T) {
	env := newEnv(t, true)
	resp, _ := env.postForm(t, utils.AddDeviceURI, url.Values{"anchor": {""}})
	expectRedirect(t, resp, utils.AddDeviceURI)
}

func TestDeviceLink(t *testing.T) {
	env := newEnv(t, true)
	anchor := createAnchor(t, env.ledger, "laptop", 1)

	resp, _ := env.postForm(t, utils.AddDeviceURI, url.Values{"anchor": {fmt.Sprint(anchor)}})
	loc := expectRedirect(t, resp, utils.AddDeviceURI+"/")
	id := strings.TrimPrefix(loc, utils.AddDeviceURI+"/")
	browser := cookie(resp, utils.BrowserCookie)
	if browser == nil || cookie(resp, utils.DeviceKeyCookie) == nil {
		t.Fatalf("cookies = %v", resp.Cookies())
	}

	resp, body := env.get(t, loc, browser)
	if resp.StatusCode != http.StatusOK || body != utils.DeviceLinkTemplate+"|Add this device" {
		t.Fatalf("device link page = %d %q", resp.StatusCode, body)
	}
	resp, _ = env.get(t, utils.FlowURI(utils.AddDeviceURI, id, "qr.png"), browser)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("qr = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	flow, _ := env.mgr.Flow(id, browser.Value)
	lf := flow.(contracts.LinkFlow)
	fragment := lf.Link()[strings.Index(lf.Link(), "#")+1:]

	// The existing device signs in and confirms the link.
	session, err := env.mgr.Sessions().(*libs.SessionStore).Issue(anchor)
	if err != nil {
		t.Fatal(err)
	}
	sessionCookie := &http.Cookie{Name: utils.DefaultSessionName, Value: session}

	resp, body = env.get(t, utils.ManageLinkURI+"?"+url.Values{"device": {fragment}}.Encode(), sessionCookie)
	if resp.StatusCode != http.StatusOK || body != utils.LinkDeviceTemplate+"|Add a new device" {
		t.Fatalf("link page = %d %q", resp.StatusCode, body)
	}
	resp, _ = env.postForm(t, utils.ManageLinkURI, url.Values{"device": {fragment}, "alias": {"phone"}}, sessionCookie)
	expectRedirect(t, resp, utils.ManageURI)

	waitDone(t, lf.Done())

	// The flow id alone does not hand out the session.
	resp, body = env.get(t, utils.FlowURI(utils.AddDeviceURI, id, "done"))
	if resp.StatusCode != http.StatusNotFound || body != utils.ErrorTemplate+"|Page expired" {
		t.Fatalf("done from another browser = %d %q", resp.StatusCode, body)
	}
	if cookie(resp, utils.DefaultSessionName) != nil {
		t.Fatal("another browser got a session")
	}
	resp, _ = env.get(t, utils.FlowURI(utils.AddDeviceURI, id, "done"), &http.Cookie{Name: utils.BrowserCookie, Value: "someone-else"})
	if resp.StatusCode != http.StatusNotFound || cookie(resp, utils.DefaultSessionName) != nil {
		t.Fatalf("done from a foreign browser id = %d", resp.StatusCode)
	}

	resp, _ = env.get(t, utils.FlowURI(utils.AddDeviceURI, id, "done"), browser)
	expectRedirect(t, resp, utils.ManageURI)
	if cookie(resp, utils.DefaultSessionName) == nil {
		t.Fatal("linked device got no session")
	}

	devices, err := env.ledger.Lookup(context.Background(), anchor)
	if err != nil || len(devices) != 2 {
		t.Fatalf("devices = %v, %v", devices, err)
	}
}

func TestDeviceLinkTimesOut(t *testing.T) {
	env := newEnv(t, true, withLinkTimeout(30*time.Millisecond))
	anchor := createAnchor(t, env.ledger, "laptop", 1)

	resp, _ := env.postForm(t, utils.AddDeviceURI, url.Values{"anchor": {fmt.Sprint(anchor)}})
	loc := expectRedirect(t, resp, utils.AddDeviceURI+"/")
	id := strings.TrimPrefix(loc, utils.AddDeviceURI+"/")
	browser := cookie(resp, utils.BrowserCookie)
	flow, ok := env.mgr.Flow(id, browser.Value)
	if !ok {
		t.Fatal("flow not registered")
	}

	waitDone(t, flow.Done())
	resp, body := env.get(t, utils.FlowURI(utils.AddDeviceURI, id, "done"), browser)
	if resp.StatusCode != http.StatusRequestTimeout || body != utils.ErrorTemplate+"|Timeout Reached" {
		t.Fatalf("done = %d %q", resp.StatusCode, body)
	}
	if cookie(resp, utils.DefaultSessionName) != nil {
		t.Fatal("timed out flow issued a session")
	}
}

func TestLinkDeviceWrongAnchor(t *testing.T) {
	env := newEnv(t, true)
	mine := createAnchor(t, env.ledger, "laptop", 1)
	other := createAnchor(t, env.ledger, "desktop", 2)
	session, err := env.mgr.Sessions().(*libs.SessionStore).Issue(mine)
	if err != nil {
		t.Fatal(err)
	}
	fragment := fmt.Sprintf("device=%d;3003;03", other)
	resp, body := env.get(t, utils.ManageLinkURI+"?"+url.Values{"device": {fragment}}.Encode(),
		&http.Cookie{Name: utils.DefaultSessionName, Value: session})
	if resp.StatusCode != http.StatusForbidden || body != utils.ErrorTemplate+"|Wrong Identity Anchor" {
		t.Fatalf("link = %d %q", resp.StatusCode, body)
	}
}

func TestAnchorLogsRequireOwnSession(t *testing.T) {
	env := newEnv(t, true)
	anchor := createAnchor(t, env.ledger, "laptop", 1)
	other := createAnchor(t, env.ledger, "desktop", 2)
	env.mgr.Audit(nil, anchor, models.OperationLogin, "")
	env.mgr.Audit(nil, other, models.OperationLogin, "")

	target := fmt.Sprintf("/api/anchors/%d/logs", anchor)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Accept", fiber.MIMEApplicationJSON)
	resp, _ := env.do(t, req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", resp.StatusCode)
	}

	session, err := env.mgr.Sessions().(*libs.SessionStore).Issue(anchor)
	if err != nil {
		t.Fatal(err)
	}
	sessionCookie := &http.Cookie{Name: utils.DefaultSessionName, Value: session}
	resp, body := env.get(t, target, sessionCookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d %q", resp.StatusCode, body)
	}
	var logs struct {
		Entries []models.LogEntry `json:"entries"`
	}
	if err := json.Unmarshal([]byte(body), &logs); err != nil {
		t.Fatal(err)
	}
	if len(logs.Entries) != 1 || logs.Entries[0].Anchor != anchor {
		t.Fatalf("entries = %+v", logs.Entries)
	}

	resp, _ = env.get(t, fmt.Sprintf("/api/anchors/%d/logs", other), sessionCookie)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign anchor status = %d", resp.StatusCode)
	}
	resp, _ = env.get(t, target+"?cursor=zz", sessionCookie)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad cursor status = %d", resp.StatusCode)
	}
}

func TestLedgerAPI(t *testing.T) {
	env := newEnv(t, true)

	payload, _ := json.Marshal(models.DeviceData{
		Alias:        "laptop",
		PubKey:       []byte{0x30, 0x01},
		CredentialID: []models.CredentialID{{1}},
		Purpose:      models.PurposeAuthentication,
	})
	req := httptest.NewRequest(http.MethodPost, utils.APIPrefix+"/anchors", bytes.NewReader(payload))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	resp, body := env.do(t, req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d %q", resp.StatusCode, body)
	}
	var created struct {
		Anchor models.AnchorNumber `json:"anchor"`
	}
	if err := json.Unmarshal([]byte(body), &created); err != nil {
		t.Fatal(err)
	}

	resp, body = env.get(t, fmt.Sprintf("%s/anchors/%d", utils.APIPrefix, created.Anchor))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info status = %d", resp.StatusCode)
	}
	var info models.AnchorInfo
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		t.Fatal(err)
	}
	if len(info.Devices) != 1 || info.Devices[0].Alias != "laptop" {
		t.Fatalf("info = %+v", info)
	}

	resp, _ = env.get(t, utils.APIPrefix+"/anchors/abc")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid anchor status = %d", resp.StatusCode)
	}

	resp, body = env.get(t, utils.APIPrefix+"/anchors/99999999")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown anchor status = %d", resp.StatusCode)
	}
	var apiErr struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal([]byte(body), &apiErr); err != nil {
		t.Fatal(err)
	}
	if apiErr.Code != contracts.ErrorCode(contracts.ErrUnknownAnchor) {
		t.Fatalf("code = %q", apiErr.Code)
	}
}
