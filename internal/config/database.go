package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// Connect timeout bounds, in milliseconds. Candidates outside the bounds are
// clamped, not rejected.
const (
	DefaultConnectTimeoutMS = 3000
	MinConnectTimeoutMS     = 100
	MaxConnectTimeoutMS     = 30000
)

// EnvConnectTimeoutMS overrides the per-candidate connect timeout.
const EnvConnectTimeoutMS = "SWARM_DB_CONNECT_TIMEOUT_MS"

// Environment variables composing the computed default database URL.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvDBUser      = "SWARM_DB_USER"
	EnvDBPassword  = "SWARM_DB_PASSWORD"
	EnvDBHost      = "SWARM_DB_HOST"
	EnvDBPort      = "SWARM_DB_PORT"
	EnvDBName      = "SWARM_DB_NAME"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ComputedDefaultDatabaseURL builds the fallback postgres URL from the
// SWARM_DB_* environment, with the local dev defaults baked in.
func ComputedDefaultDatabaseURL() string {
	user := envOr(EnvDBUser, "shitty_swarm_manager")
	password := envOr(EnvDBPassword, "swarm")
	host := envOr(EnvDBHost, "localhost")
	port := envOr(EnvDBPort, "5437")
	name := envOr(EnvDBName, "swarm")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, name)
}

// DatabaseURLCandidates returns the connection candidates in priority order:
// DATABASE_URL env, the config file URL, then the computed default.
// Duplicates are removed preserving order. An explicit request argument is
// prepended by the caller.
func DatabaseURLCandidates(root string) []string {
	var candidates []string
	push := func(url string) {
		if url == "" {
			return
		}
		for _, existing := range candidates {
			if existing == url {
				return
			}
		}
		candidates = append(candidates, url)
	}

	push(os.Getenv(EnvDatabaseURL))
	if cfg, err := Load(root); err == nil {
		push(cfg.DatabaseURL)
	}
	push(ComputedDefaultDatabaseURL())
	return candidates
}

// ConnectTimeoutMS resolves the per-candidate connect timeout: an explicit
// value wins, then the environment, then the default; the result is clamped
// to [MinConnectTimeoutMS, MaxConnectTimeoutMS].
func ConnectTimeoutMS(explicit *uint64) uint64 {
	timeout := uint64(DefaultConnectTimeoutMS)
	if env := os.Getenv(EnvConnectTimeoutMS); env != "" {
		if parsed, err := strconv.ParseUint(env, 10, 64); err == nil {
			timeout = parsed
		}
	}
	if explicit != nil {
		timeout = *explicit
	}
	if timeout < MinConnectTimeoutMS {
		timeout = MinConnectTimeoutMS
	}
	if timeout > MaxConnectTimeoutMS {
		timeout = MaxConnectTimeoutMS
	}
	return timeout
}

// MaskDatabaseURL replaces any password in the URL with asterisks so
// credentials never reach envelopes or logs.
func MaskDatabaseURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		return "<invalid-database-url>"
	}
	if parsed.User != nil {
		if _, has := parsed.User.Password(); has {
			parsed.User = url.UserPassword(parsed.User.Username(), "********")
		}
	}
	return parsed.String()
}
