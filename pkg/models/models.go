package models

import (
	"bytes"
	"time"
)

type RateLimiter struct {
	Requests map[string][]time.Time
}

// AnchorNumber identifies an identity anchor on the ledger.
type AnchorNumber = uint64

// Timestamp is nanoseconds since the Unix epoch as reported by the identity service.
type Timestamp uint64

func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t))
}

func TimestampFrom(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

// CredentialID is the raw id of a WebAuthn credential.
type CredentialID []byte

// Equal reports whether both ids hold exactly the same bytes.
func (c CredentialID) Equal(other CredentialID) bool {
	if len(c) != len(other) {
		return false
	}
	return bytes.Equal(c, other)
}

type Purpose string

const (
	PurposeAuthentication Purpose = "authentication"
	PurposeRecovery       Purpose = "recovery"
)

type KeyType string

const (
	KeyTypeUnknown       KeyType = "unknown"
	KeyTypePlatform      KeyType = "platform"
	KeyTypeCrossPlatform KeyType = "cross_platform"
	KeyTypeSeedPhrase    KeyType = "seed_phrase"
)

type DeviceProtection string

const (
	Protected   DeviceProtection = "protected"
	Unprotected DeviceProtection = "unprotected"
)

// DeviceData is a read-only snapshot of a device registered on an anchor.
// CredentialID holds zero or one id.
type DeviceData struct {
	Alias        string           `json:"alias"`
	PubKey       []byte           `json:"pubkey"`
	CredentialID []CredentialID   `json:"credential_id,omitempty"`
	Purpose      Purpose          `json:"purpose"`
	KeyType      KeyType          `json:"key_type"`
	Protection   DeviceProtection `json:"protection"`
}

// SingleCredentialID returns the credential id when exactly one is present.
func (d DeviceData) SingleCredentialID() (CredentialID, bool) {
	if len(d.CredentialID) != 1 {
		return nil, false
	}
	return d.CredentialID[0], true
}

type TentativeRegistrationInfo struct {
	VerificationCode          string    `json:"verification_code"`
	DeviceRegistrationTimeout Timestamp `json:"device_registration_timeout"`
}

func (t TentativeRegistrationInfo) Deadline() time.Time {
	return t.DeviceRegistrationTimeout.Time()
}

type DeviceRegistrationInfo struct {
	Expiration      Timestamp   `json:"expiration"`
	TentativeDevice *DeviceData `json:"tentative_device,omitempty"`
}

type AnchorInfo struct {
	Devices            []DeviceData            `json:"devices"`
	DeviceRegistration *DeviceRegistrationInfo `json:"device_registration,omitempty"`
}

// Credential is a freshly created authenticator credential.
type Credential struct {
	PubKey []byte       `json:"pubkey"`
	RawID  CredentialID `json:"raw_id"`
	// Seed is the private key of a software credential. The browser only
	// ever sees it inside an encrypted cookie.
	Seed []byte `json:"-"`
}

type OutcomeKind string

const (
	OutcomeVerified  OutcomeKind = "verified"
	OutcomeTimedOut  OutcomeKind = "timed_out"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the terminal result of a verification or device-link flow.
type Outcome struct {
	Kind   OutcomeKind  `json:"kind"`
	Anchor AnchorNumber `json:"anchor,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

func Verified(anchor AnchorNumber) Outcome {
	return Outcome{Kind: OutcomeVerified, Anchor: anchor}
}

func TimedOut() Outcome {
	return Outcome{Kind: OutcomeTimedOut}
}

func Cancelled() Outcome {
	return Outcome{Kind: OutcomeCancelled}
}

func Failed(detail string) Outcome {
	return Outcome{Kind: OutcomeFailed, Detail: detail}
}

type ErrorPageData struct {
	Title       string
	StatusCode  int
	Message     string
	Description string
	Technical   string
	ButtonLabel string
	RetryURL    string
	ErrorID     string
}

type Operation string

const (
	OperationRegisterAnchor Operation = "register_anchor"
	OperationAddDevice      Operation = "add_device"
	OperationVerifyDevice   Operation = "verify_device"
	OperationLinkDevice     Operation = "link_device"
	OperationLogin          Operation = "login"
	OperationLogout         Operation = "logout"
)

// LogEntry is one record of the anchor activity log.
type LogEntry struct {
	Index     uint64       `json:"index" db:"log_index"`
	Anchor    AnchorNumber `json:"anchor" db:"anchor"`
	Timestamp Timestamp    `json:"timestamp" db:"timestamp"`
	Caller    string       `json:"caller" db:"caller"`
	Operation Operation    `json:"operation" db:"operation"`
	Detail    string       `json:"detail,omitempty" db:"detail"`
}

type Logs struct {
	Entries []LogEntry `json:"entries"`
	NextIdx *uint64    `json:"next_idx,omitempty"`
}

// Cursor resumes an anchor log listing. Exactly one field is set.
type Cursor struct {
	NextToken []byte     `json:"next_token,omitempty"`
	Timestamp *Timestamp `json:"timestamp,omitempty"`
}

type AnchorLogs struct {
	Entries []LogEntry `json:"entries"`
	Cursor  *Cursor    `json:"cursor,omitempty"`
}

// FlowStatus is a point-in-time view of a running flow.
type FlowStatus struct {
	ID        string       `json:"id"`
	Kind      string       `json:"kind"`
	Anchor    AnchorNumber `json:"anchor"`
	State     string       `json:"state"`
	Remaining string       `json:"remaining,omitempty"`
	Failures  int          `json:"failures,omitempty"`
	Done      bool         `json:"done"`
	Outcome   *Outcome     `json:"outcome,omitempty"`
}

type ServiceInfo struct {
	Name                string `json:"name"`
	Version             string `json:"version"`
	RegistrationEnabled bool   `json:"registration_enabled"`
}
