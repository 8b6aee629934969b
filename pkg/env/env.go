package env

import (
	"os"

	"github.com/joho/godotenv"
)

// Get returns the value of the given environment variable or a fallback.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// LoadDotEnv reads .env files when present. It reports whether any file was
// loaded; a missing file is not an error for deployed binaries.
func LoadDotEnv(files ...string) bool {
	return godotenv.Load(files...) == nil
}
