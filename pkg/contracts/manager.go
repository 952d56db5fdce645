package contracts

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/oarkflow/anchor/pkg/models"
)

type SecurityManager interface {
	IsRateLimited(identifier string) bool
	IsRateLimitedWithMax(identifier string, maxRequests int) bool
	RecordRequest(identifier string)
	IsLoginBlocked(identifier string) bool
	RecordFailedLogin(identifier string)
	ClearLoginAttempts(identifier string)
}

type LogoutTracker interface {
	SetLogout(anchor models.AnchorNumber)
	IsLoggedOut(anchor models.AnchorNumber, issuedAt int64) bool
	ClearLogout(anchor models.AnchorNumber)
}

// SessionStore keeps the active anchor of a browser.
type SessionStore interface {
	PersistActiveAnchor(c *fiber.Ctx, anchor models.AnchorNumber) error
	ReadActiveAnchor(c *fiber.Ctx) (models.AnchorNumber, bool)
	Clear(c *fiber.Ctx)
	PersistDeviceKey(c *fiber.Ctx, seed []byte) error
	ReadDeviceKey(c *fiber.Ctx) ([]byte, bool)
}

// ChallengeStore hands out single use sign-in nonces.
type ChallengeStore interface {
	Issue() (id string, nonce []byte, err error)
	Consume(id string) ([]byte, bool)
}

type VerificationFlow interface {
	Flow
	Anchor() models.AnchorNumber
	Alias() string
	VerificationCode() string
	Deadline() time.Time
}

type LinkFlow interface {
	Flow
	Anchor() models.AnchorNumber
	Credential() models.Credential
	Link() string
	QRCode() []byte
}

type Manager interface {
	Connection() Connection
	Logs() LogStore
	Security() SecurityManager
	Sessions() SessionStore
	Challenges() ChallengeStore
	LogoutTracker() LogoutTracker
	Logger() *zap.Logger
	StartVerification(owner string, anchor models.AnchorNumber, alias string, target models.CredentialID, info models.TentativeRegistrationInfo) (VerificationFlow, error)
	StartDeviceLink(ctx context.Context, owner string, anchor models.AnchorNumber, baseURL string, creator CredentialCreator) (LinkFlow, error)
	// Flow returns the flow id when it was started by owner.
	Flow(id, owner string) (Flow, bool)
	RemoveFlow(id string)
	Audit(c *fiber.Ctx, anchor models.AnchorNumber, op models.Operation, detail string)
}
