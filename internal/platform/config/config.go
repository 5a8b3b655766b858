package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load populates the process environment from dotenv files. Variables that
// are already set keep their value. With no paths ".env" is read, and a
// missing default file is not an error.
func Load(paths ...string) error {
	if len(paths) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		paths = []string{".env"}
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func lookup(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// GetEnv returns the trimmed value of key, or fallback if it is unset or blank.
func GetEnv(key, fallback string) string {
	if s := lookup(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns key parsed as an int, or fallback if it is unset or invalid.
func GetEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(lookup(key)); err == nil {
		return n
	}
	return fallback
}

// GetEnvUint32 is GetEnvInt for unsigned 32-bit values such as SSRCs.
func GetEnvUint32(key string, fallback uint32) uint32 {
	if n, err := strconv.ParseUint(lookup(key), 10, 32); err == nil {
		return uint32(n)
	}
	return fallback
}

// GetEnvDuration parses values like "5s" or "250ms". A bare integer is taken as seconds.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := lookup(key)
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// GetEnvBool accepts 1/0, true/false, yes/no (case-insensitive).
func GetEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(lookup(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
