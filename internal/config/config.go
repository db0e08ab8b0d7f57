// Package config loads bp settings with viper from .backport/config.yaml,
// BP_* environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DirName is the directory holding the project config file and run state.
const DirName = ".backport"

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	return InitializeFile("")
}

// InitializeFile is Initialize with an explicit config file. An empty path
// searches for .backport/config.yaml from the working directory upwards,
// then in the user config directory.
func InitializeFile(path string) error {
	v = viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
	}

	// BP_DOWNSTREAM_TOKEN -> downstream.token, BP_DRY_RUN -> dry_run
	v.SetEnvPrefix("BP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}
	return nil
}

// findConfigFile walks up from the working directory looking for
// .backport/config.yaml and falls back to the user config directory.
func findConfigFile() string {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; {
			candidate := filepath.Join(dir, DirName, "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(dir, "backport", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("release", "")
	v.SetDefault("default_user", "")
	v.SetDefault("check_incomplete", true)
	v.SetDefault("skip_build_test", false)
	v.SetDefault("dry_run", false)
	v.SetDefault("state_dir", DirName)

	v.SetDefault("repo.dir", ".")
	v.SetDefault("repo.url", "")
	v.SetDefault("repo.upstream_ref", "upstream/main")
	v.SetDefault("repo.downstream_ref", "origin/main")
	v.SetDefault("repo.push_remote", "")
	v.SetDefault("repo.push_ref", "")
	v.SetDefault("repo.committer_name", "")
	v.SetDefault("repo.committer_email", "")

	for _, side := range []string{"upstream", "downstream"} {
		v.SetDefault(side+".tracker", "jira")
		v.SetDefault(side+".project", "")
		v.SetDefault(side+".query", "")
		v.SetDefault(side+".link_base", "")
	}
	v.SetDefault("downstream.ready_state", "Ready for QE")
	v.SetDefault("downstream.clone_link_type", "Cloners")

	v.SetDefault("policy.customer_priority_threshold", "High")
	v.SetDefault("policy.security_impact_threshold", "Important")
	v.SetDefault("policy.confirmed_upstream_issues", []string{})
	v.SetDefault("policy.excluded_upstream_issues", []string{})
	v.SetDefault("policy.confirmed_downstream_issues", []string{})
	v.SetDefault("policy.excluded_downstream_issues", []string{})

	v.SetDefault("labels.no_backport_needed", "NO-BACKPORT-NEEDED")
	v.SetDefault("labels.tested", "tested")
	v.SetDefault("labels.no_testing_needed", "no-testing-needed")
	v.SetDefault("labels.no_tracking_marker", "NO-JIRA")

	v.SetDefault("build.command", "")
	v.SetDefault("build.test_command", "")
	v.SetDefault("build.test_pattern", "")

	v.SetDefault("ledger.commits", "")
	v.SetDefault("ledger.confirmed", "")
	v.SetDefault("ledger.lock_timeout", 30*time.Second)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_interval", 500*time.Millisecond)
}

// Viper returns the underlying store, for collaborators that read their own
// keys such as tracker plugins. Nil before Initialize.
func Viper() *viper.Viper {
	return v
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice configuration value
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// Set sets a configuration value, taking precedence over every other source.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// ResetForTesting drops the singleton so the next Initialize starts clean.
func ResetForTesting() {
	v = nil
}
