// Package utils provides small helpers shared by the CLI and the relay core.
package utils

import "os"

// GetEnvWithDefault retrieves an environment variable or returns a default
// value if not set.
func GetEnvWithDefault(name, defaultValue string) string {
	value := os.Getenv(name)
	if value == "" {
		return defaultValue
	}
	return value
}

// MaskToken masks an API key or token for safe display in logs and
// diagnostics. Only the first and last few characters are shown; anything
// too short to mask safely is replaced entirely.
func MaskToken(token string) string {
	if len(token) < 10 {
		return "***" // Too short to safely show anything
	}
	return token[:4] + "..." + token[len(token)-4:]
}
