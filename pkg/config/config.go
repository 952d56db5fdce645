package config

import (
	"github.com/oarkflow/anchor/pkg/objects"
)

type Config struct{}

func (a *Config) Prefix() string {
	return "anchor"
}

func (a *Config) Load() {
	objects.Config.Add("app", map[string]any{
		"name":         objects.Config.Env("APP_NAME", "Anchor"),
		"version":      "1.0.0",
		"env":          objects.Config.Env("APP_ENV", "development"),
		"https":        objects.Config.Env("APP_HTTPS", false),
		"addr":         objects.Config.Env("APP_ADDR", ":8080"),
		"registration": objects.Config.Env("APP_REGISTRATION", true),
		"migrating":    objects.Config.Env("APP_MIGRATING", false),
	})
	objects.Config.Add(a.Prefix(), map[string]any{
		"secret":          objects.Config.Env("ANCHOR_SECRET", "OdR4DlWhZk6osDd0qXLdVT88lHOvj14L"),
		"session_name":    objects.Config.Env("ANCHOR_SESSION_NAME", "anchor_session"),
		"session_timeout": objects.Config.Env("ANCHOR_SESSION_TIMEOUT", "720h"),

		"service_url":            objects.Config.Env("ANCHOR_SERVICE_URL", ""),
		"dev_ledger":             objects.Config.Env("ANCHOR_DEV_LEDGER", true),
		"software_authenticator": objects.Config.Env("ANCHOR_SOFTWARE_AUTHENTICATOR", true),

		"rate_limit_requests": objects.Config.Env("ANCHOR_RATE_LIMIT_REQUESTS", 30),
	})
	objects.Config.Add("verify", map[string]any{
		"poll_delay":               objects.Config.Env("VERIFY_POLL_DELAY", "500ms"),
		"max_consecutive_failures": objects.Config.Env("VERIFY_MAX_CONSECUTIVE_FAILURES", 5),
		"tick":                     objects.Config.Env("VERIFY_TICK", "1s"),
		"lookup_timeout":           objects.Config.Env("VERIFY_LOOKUP_TIMEOUT", "5s"),
	})
	objects.Config.Add("devicelink", map[string]any{
		"interval": objects.Config.Env("DEVICELINK_INTERVAL", "2.5s"),
		"timeout":  objects.Config.Env("DEVICELINK_TIMEOUT", "5m"),
	})
	objects.Config.Add("log", map[string]any{
		"database":             objects.Config.Env("LOG_DATABASE", "anchor.db"),
		"max_entries_per_call": objects.Config.Env("LOG_MAX_ENTRIES_PER_CALL", 1000),
	})
}
