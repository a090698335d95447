// Package env reads typed settings from environment variables. Every getter
// takes a default that is used when the variable is unset or unparseable.
package env

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetString returns the variable named by key as is, or defaultValue when it
// is not present. An empty but present variable is returned as empty.
func GetString(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func parse[T any](key string, defaultValue T, convert func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}

	value, err := convert(strings.TrimSpace(raw))
	if err != nil {
		return defaultValue
	}
	return value
}

// GetBool understands the forms strconv.ParseBool does ("1", "true", "F"...).
func GetBool(key string, defaultValue bool) bool {
	return parse(key, defaultValue, strconv.ParseBool)
}

func GetInt(key string, defaultValue int) int {
	return parse(key, defaultValue, strconv.Atoi)
}

// GetDuration parses values like "500ms" or "10m".
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	return parse(key, defaultValue, time.ParseDuration)
}

// GetSecret reads a credential and unsets it, so that child processes and
// later environment dumps never see it.
func GetSecret(key string) string {
	value := strings.TrimSpace(GetString(key, ""))
	_ = os.Unsetenv(key)
	return value
}
