package config

import (
	"os"
	"strconv"
)

// GetEnv returns the value of an environment variable or a default value if not set
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetBoolEnv returns the boolean value of an environment variable or a default value if not set
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetIntEnv returns the integer value of an environment variable or a default value if not set
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// MustGetEnv returns the value of an environment variable or panics if not set
func MustGetEnv(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	panic("Required environment variable " + key + " is not set")
}

// GetEVEClientID returns the EVE SSO application client ID
func GetEVEClientID() string {
	return GetEnv("EVE_CLIENT_ID", "")
}

// GetEVEClientSecret returns the EVE SSO application secret key
func GetEVEClientSecret() string {
	return GetEnv("EVE_SECRET_KEY", "")
}

// GetEVECallbackURL returns the SSO callback URL registered with the EVE application
func GetEVECallbackURL() string {
	return GetEnv("EVE_CALLBACK_URL", "http://localhost:8080/callback")
}

// GetCallbackServerPort returns the port the callback/API server listens on
func GetCallbackServerPort() int {
	return GetIntEnv("CALLBACK_SERVER_PORT", 8080)
}

// GetBotToken returns the chat platform bot login token
func GetBotToken() string {
	return GetEnv("BOT_TOKEN", "")
}

// GetErrorChannelID returns the channel that receives operational error reports, if configured
func GetErrorChannelID() string {
	return GetEnv("ERROR_CHANNEL_ID", "")
}

// GetESIUserAgent returns the User-Agent sent on every ESI request
func GetESIUserAgent() string {
	return GetEnv("ESI_USER_AGENT", "go-watchtower/1.0.0 contact@example.com")
}
