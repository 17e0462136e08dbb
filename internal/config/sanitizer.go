package config

import (
	"encoding/json"
	"net/url"
	"strings"
)

// ConfigSanitizer sanitizes sensitive configuration data before it is
// logged or surfaced through the control CLI.
type ConfigSanitizer interface {
	// Sanitize removes or redacts sensitive fields
	Sanitize(cfg *Config) *Config
}

// DefaultConfigSanitizer implements ConfigSanitizer.
type DefaultConfigSanitizer struct {
	redactionValue string
}

// NewDefaultConfigSanitizer creates a new DefaultConfigSanitizer.
func NewDefaultConfigSanitizer() ConfigSanitizer {
	return &DefaultConfigSanitizer{redactionValue: "***REDACTED***"}
}

// NewConfigSanitizer creates a ConfigSanitizer with a custom redaction value.
func NewConfigSanitizer(redactionValue string) ConfigSanitizer {
	return &DefaultConfigSanitizer{redactionValue: redactionValue}
}

// Sanitize redacts the DSN credentials and Redis password from a copy of cfg.
func (s *DefaultConfigSanitizer) Sanitize(cfg *Config) *Config {
	sanitized := s.deepCopy(cfg)

	sanitized.Database.DSN = s.sanitizeDSN(sanitized.Database.DSN)
	if sanitized.Redis.Password != "" {
		sanitized.Redis.Password = s.redactionValue
	}

	return sanitized
}

func (s *DefaultConfigSanitizer) deepCopy(cfg *Config) *Config {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}

	var configCopy Config
	if err := json.Unmarshal(configJSON, &configCopy); err != nil {
		return cfg
	}

	return &configCopy
}

// sanitizeDSN redacts the userinfo portion of a postgres:// DSN, leaving
// host/port/database/sslmode visible for diagnostics.
func (s *DefaultConfigSanitizer) sanitizeDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}

	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}

	// The marker is spliced in verbatim: url.UserPassword would
	// percent-escape characters such as '*' or '['.
	name := u.User.Username()
	u.User = nil
	rest := strings.TrimPrefix(u.String(), u.Scheme+"://")
	return u.Scheme + "://" + url.User(name).String() + ":" + s.redactionValue + "@" + rest
}
