// Package config provides configuration helpers for go-coach commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Env returns the value of the named environment variable.
// Falls back to the provided default if not set.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvRequired returns the value of the named environment variable.
// Exits with a usage message if not set.
func EnvRequired(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "Error: %s environment variable is required\n", key)
		fmt.Fprintf(os.Stderr, "Usage: %s=... go run ./cmd/...\n", key)
		os.Exit(1)
	}
	return v
}

// EnvBool returns the named environment variable parsed as a bool.
// Falls back to the provided default if unset or unparseable.
func EnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// EnvDuration returns the named environment variable parsed as a duration.
// Falls back to the provided default if unset or unparseable.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
