// Package config loads relay and wrapper configuration from the
// environment, with an optional YAML file on the wrapper side.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Relay holds the relay server configuration. All fields come from
// OMNARA_RELAY_* environment variables with defaults.
type Relay struct {
	Host string
	Port int

	HistoryBytes       int
	HeartbeatInterval  time.Duration
	HeartbeatMissLimit int // reserved for active-session eviction
	EndedRetention     time.Duration

	AllowedOrigins []string

	JWTSecret       string
	SupabaseURL     string
	SupabaseAnonKey string

	LogLevel string
	LogFile  string
}

var defaultOrigins = []string{
	"omnara.com",
	"*.omnara.com",
	"localhost:3000",
	"localhost:5173",
	"127.0.0.1:3000",
	"127.0.0.1:5173",
}

func LoadRelay() Relay {
	return Relay{
		Host:               envStr("OMNARA_RELAY_WS_HOST", "0.0.0.0"),
		Port:               envInt("OMNARA_RELAY_WS_PORT", 8787),
		HistoryBytes:       envInt("OMNARA_RELAY_HISTORY_BYTES", 1048576),
		HeartbeatInterval:  envSeconds("OMNARA_RELAY_HEARTBEAT_INTERVAL", 10),
		HeartbeatMissLimit: envInt("OMNARA_RELAY_HEARTBEAT_MISS_LIMIT", 3),
		EndedRetention:     envSeconds("OMNARA_RELAY_ENDED_RETENTION", 900),
		AllowedOrigins:     envList("OMNARA_RELAY_ALLOWED_ORIGINS", defaultOrigins),
		JWTSecret:          os.Getenv("OMNARA_RELAY_JWT_SECRET"),
		SupabaseURL:        os.Getenv("OMNARA_RELAY_SUPABASE_URL"),
		SupabaseAnonKey:    os.Getenv("OMNARA_RELAY_SUPABASE_ANON_KEY"),
		LogLevel:           envStr("OMNARA_RELAY_LOG_LEVEL", "info"),
		LogFile:            os.Getenv("OMNARA_RELAY_LOG_FILE"),
	}
}

// Addr returns the host:port the relay listens on.
func (c Relay) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
