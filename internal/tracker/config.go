package tracker

import (
	"fmt"
	"os"
	"strings"
)

// Config holds configuration for one tracker role ("upstream" or
// "downstream"). Values are read from the config store under the role's
// prefix, falling back to environment variables.
type Config struct {
	// Prefix is the config key prefix for this tracker (e.g., "upstream", "downstream")
	Prefix string

	// Store provides access to the config storage
	Store ConfigStore
}

// ConfigStore provides access to configuration values. *viper.Viper
// satisfies it.
type ConfigStore interface {
	GetString(key string) string
	GetStringSlice(key string) []string
	GetStringMapString(key string) map[string]string
}

// NewConfig creates a new tracker config with the given prefix and store.
func NewConfig(prefix string, store ConfigStore) *Config {
	return &Config{
		Prefix: prefix,
		Store:  store,
	}
}

// Get retrieves a config value by key, checking both the config store
// and environment variables. The key should not include the tracker prefix.
// Example: cfg.Get("token") for "downstream" prefix looks up "downstream.token"
// and falls back to "DOWNSTREAM_TOKEN" env var.
func (c *Config) Get(key string) string {
	if c.Store != nil {
		if value := c.Store.GetString(c.fullKey(key)); value != "" {
			return value
		}
	}
	return os.Getenv(c.envVarName(key))
}

// GetDefault is like Get but returns def when the value is empty.
func (c *Config) GetDefault(key, def string) string {
	if value := c.Get(key); value != "" {
		return value
	}
	return def
}

// GetRequired is like Get but returns an error if the value is empty.
func (c *Config) GetRequired(key string) (string, error) {
	value := c.Get(key)
	if value == "" {
		return "", fmt.Errorf("%s not configured (set %s in the config file or export %s)",
			c.fullKey(key), c.fullKey(key), c.envVarName(key))
	}
	return value, nil
}

// GetList returns a list value. A plain string value is split on commas.
func (c *Config) GetList(key string) []string {
	var values []string
	if c.Store != nil {
		values = c.Store.GetStringSlice(c.fullKey(key))
	}
	if len(values) == 0 {
		if env := os.Getenv(c.envVarName(key)); env != "" {
			values = strings.Split(env, ",")
		}
	}
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// GetMap returns a map value such as a field-name mapping.
func (c *Config) GetMap(key string) map[string]string {
	if c.Store == nil {
		return map[string]string{}
	}
	return c.Store.GetStringMapString(c.fullKey(key))
}

func (c *Config) fullKey(key string) string {
	return c.Prefix + "." + key
}

// envVarName converts a config key to its environment variable name.
// Example: for prefix "downstream" and key "api_token", returns "DOWNSTREAM_API_TOKEN"
func (c *Config) envVarName(key string) string {
	// Convert to uppercase and replace dots with underscores
	envKey := strings.ToUpper(c.Prefix + "_" + key)
	envKey = strings.ReplaceAll(envKey, ".", "_")
	return envKey
}

// CommonConfig defines configuration keys used by all trackers.
var CommonConfig = struct {
	Tracker    string
	URL        string
	Project    string
	Username   string
	Token      string
	KeyPattern string
	Workflow   string
	Query      string
	Fields     string
}{
	Tracker:    "tracker",
	URL:        "url",
	Project:    "project",
	Username:   "username",
	Token:      "token",
	KeyPattern: "key_pattern",
	Workflow:   "workflow",
	Query:      "query",
	Fields:     "fields",
}
