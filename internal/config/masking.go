package config

import (
	"fmt"
	"strings"
)

// maskSecret keeps the first and last 4 characters of secret.
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < 8 {
		return "***"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// Redacted returns a copy of c that is safe to log.
func (c Config) Redacted() Config {
	c.Redis.Password = maskSecret(c.Redis.Password)
	return c
}

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func fieldError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
