// Package config loads process-wide startup configuration from the
// environment (or a .env file), the same way the teacher application
// loads its own.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/swaptacular/swpt-apiproxy/internal/mode"
)

func lookupEnv(key string) (string, bool) { return os.LookupEnv(key) }

// Config holds everything decided once at startup and never reloaded:
// the listen port, the config file path, and the two forwarding
// timeouts. Mode lives alongside it but is selected separately (see
// mode.FromOSEnv) since it has its own fatal-error shape.
type Config struct {
	ConfigFile   string
	Port         string
	ProxyTimeout int // ms, per-upstream-response timeout
	Timeout      int // ms, overall socket idle timeout
}

// Load loads Config from the environment, after loading an optional
// .env file (mirroring the teacher's Load).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ConfigFile: getenvOrDefault("APIPROXY_CONFIG_FILE", "apiproxy.conf"),
		Port:       getenvOrDefault("APIPROXY_PORT", "8080"),
	}

	proxyTimeout, err := getenvIntOrDefault("APIPROXY_PROXY_TIMEOUT", 10000)
	if err != nil {
		return nil, &Error{Message: "APIPROXY_PROXY_TIMEOUT must be an integer: " + err.Error()}
	}
	cfg.ProxyTimeout = proxyTimeout

	timeout, err := getenvIntOrDefault("APIPROXY_TIMEOUT", 15000)
	if err != nil {
		return nil, &Error{Message: "APIPROXY_TIMEOUT must be an integer: " + err.Error()}
	}
	cfg.Timeout = timeout

	return cfg, nil
}

// LoadMode selects the process mode from the environment. Kept as a
// thin wrapper here so cmd/apiproxy has a single "startup config"
// entry point even though mode has its own package.
func LoadMode() (mode.Mode, error) {
	return mode.FromOSEnv()
}

func getenvOrDefault(key, def string) string {
	if v, ok := lookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvIntOrDefault(key string, def int) (int, error) {
	v, ok := lookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// Error represents a fatal configuration-loading error, the same
// shape as the teacher's ConfigError.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
