package libs

import (
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oarkflow/paseto/token"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/models"
	"github.com/oarkflow/anchor/pkg/utils"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrSessionExpired = errors.New("session expired")
)

// SessionStore keeps the active anchor in an encrypted paseto cookie.
type SessionStore struct {
	secret      []byte
	name        string
	timeout     time.Duration
	enableHTTPS bool
	env         string
	tracker     contracts.LogoutTracker
}

func NewSessionStore(cfg *Config, tracker contracts.LogoutTracker) *SessionStore {
	name := cfg.SessionName
	if name == "" {
		name = utils.DefaultSessionName
	}
	return &SessionStore{
		secret:      cfg.Secret,
		name:        name,
		timeout:     cfg.SessionTimeout,
		enableHTTPS: cfg.EnableHTTPS,
		env:         cfg.Env,
		tracker:     tracker,
	}
}

func (s *SessionStore) Name() string {
	return s.name
}

// Issue creates a session token for anchor.
func (s *SessionStore) Issue(anchor models.AnchorNumber) (string, error) {
	now := time.Now()
	claims := map[string]any{
		"sub": strconv.FormatUint(anchor, 10),
		"iat": now.Unix(),
		"exp": now.Add(s.timeout).Unix(),
	}
	t := token.CreateToken(s.timeout, token.AlgEncrypt)
	_ = token.RegisterClaims(t, claims)
	return token.EncryptToken(t, s.secret)
}

// Parse returns the anchor a session token was issued for and when.
func (s *SessionStore) Parse(tokenStr string) (models.AnchorNumber, int64, error) {
	decTok, err := token.DecryptToken(tokenStr, s.secret)
	if err != nil {
		return 0, 0, ErrInvalidSession
	}
	claims := decTok.Claims
	sub, _ := claims["sub"].(string)
	anchor, err := strconv.ParseUint(sub, 10, 64)
	if err != nil {
		return 0, 0, ErrInvalidSession
	}
	if exp, ok := claims["exp"].(float64); ok && int64(exp) < time.Now().Unix() {
		return 0, 0, ErrSessionExpired
	}
	iat, _ := claims["iat"].(float64)
	return anchor, int64(iat), nil
}

func (s *SessionStore) PersistActiveAnchor(c *fiber.Ctx, anchor models.AnchorNumber) error {
	tokenStr, err := s.Issue(anchor)
	if err != nil {
		return err
	}
	if s.tracker != nil {
		s.tracker.ClearLogout(anchor)
	}
	c.Cookie(utils.GetCookie(s.enableHTTPS, s.env, s.name, tokenStr, int(s.timeout.Seconds())))
	return nil
}

func (s *SessionStore) ReadActiveAnchor(c *fiber.Ctx) (models.AnchorNumber, bool) {
	tokenStr := c.Cookies(s.name)
	if tokenStr == "" {
		return 0, false
	}
	anchor, iat, err := s.Parse(tokenStr)
	if err != nil {
		return 0, false
	}
	if s.tracker != nil && iat > 0 && s.tracker.IsLoggedOut(anchor, iat) {
		return 0, false
	}
	return anchor, true
}

func (s *SessionStore) Clear(c *fiber.Ctx) {
	c.ClearCookie(s.name)
}

const deviceKeyLifetime = 365 * 24 * time.Hour

// PersistDeviceKey stores the seed of a software credential in an encrypted
// cookie. Sign-in answers the challenge with it.
func (s *SessionStore) PersistDeviceKey(c *fiber.Ctx, seed []byte) error {
	t := token.CreateToken(deviceKeyLifetime, token.AlgEncrypt)
	_ = token.RegisterClaims(t, map[string]any{
		"seed": hex.EncodeToString(seed),
	})
	tokenStr, err := token.EncryptToken(t, s.secret)
	if err != nil {
		return err
	}
	c.Cookie(utils.GetCookie(s.enableHTTPS, s.env, utils.DeviceKeyCookie, tokenStr, int(deviceKeyLifetime.Seconds())))
	return nil
}

func (s *SessionStore) ReadDeviceKey(c *fiber.Ctx) ([]byte, bool) {
	tokenStr := c.Cookies(utils.DeviceKeyCookie)
	if tokenStr == "" {
		return nil, false
	}
	decTok, err := token.DecryptToken(tokenStr, s.secret)
	if err != nil {
		return nil, false
	}
	seedHex, _ := decTok.Claims["seed"].(string)
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) == 0 {
		return nil, false
	}
	return seed, true
}
