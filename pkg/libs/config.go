package libs

import (
	"time"

	"github.com/oarkflow/anchor/pkg/devicelink"
	"github.com/oarkflow/anchor/pkg/objects"
	"github.com/oarkflow/anchor/pkg/verify"
)

type Config struct {
	AppName               string
	Env                   string
	EnableHTTPS           bool
	RegistrationEnabled   bool
	Migrating             bool
	Secret                []byte
	SessionName           string
	SessionTimeout        time.Duration
	ServiceURL            string
	DevLedger             bool
	SoftwareAuthenticator bool
	RateLimitRequests     int
	PollDelay             time.Duration
	MaxConsecutiveFailure int
	CountdownTick         time.Duration
	LookupTimeout         time.Duration
	LinkInterval          time.Duration
	LinkTimeout           time.Duration
	LogDatabase           string
	MaxEntriesPerCall     int
}

// --- Configuration Functions ---
func LoadConfig() *Config {
	return &Config{
		AppName:               objects.Config.GetString("app.name", "Anchor"),
		Env:                   objects.Config.GetString("app.env", "development"),
		EnableHTTPS:           objects.Config.GetBool("app.https", false),
		RegistrationEnabled:   objects.Config.GetBool("app.registration", true),
		Migrating:             objects.Config.GetBool("app.migrating", false),
		Secret:                []byte(objects.Config.GetString("anchor.secret")),
		SessionName:           objects.Config.GetString("anchor.session_name", "anchor_session"),
		SessionTimeout:        objects.Config.GetDuration("anchor.session_timeout", "720h"),
		ServiceURL:            objects.Config.GetString("anchor.service_url"),
		DevLedger:             objects.Config.GetBool("anchor.dev_ledger", false),
		SoftwareAuthenticator: objects.Config.GetBool("anchor.software_authenticator", false),
		RateLimitRequests:     objects.Config.GetInt("anchor.rate_limit_requests", 30),
		PollDelay:             objects.Config.GetDuration("verify.poll_delay", verify.DefaultPollDelay),
		MaxConsecutiveFailure: objects.Config.GetInt("verify.max_consecutive_failures", verify.DefaultMaxConsecutiveFailures),
		CountdownTick:         objects.Config.GetDuration("verify.tick", "1s"),
		LookupTimeout:         objects.Config.GetDuration("verify.lookup_timeout", verify.DefaultLookupTimeout),
		LinkInterval:          objects.Config.GetDuration("devicelink.interval", devicelink.DefaultInterval),
		LinkTimeout:           objects.Config.GetDuration("devicelink.timeout", devicelink.DefaultTimeout),
		LogDatabase:           objects.Config.GetString("log.database", "anchor.db"),
		MaxEntriesPerCall:     objects.Config.GetInt("log.max_entries_per_call", 1000),
	}
}

func (c *Config) PollOptions() verify.Options {
	return verify.Options{
		Delay:                  c.PollDelay,
		MaxConsecutiveFailures: c.MaxConsecutiveFailure,
		LookupTimeout:          c.LookupTimeout,
	}
}
