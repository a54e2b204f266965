package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"interface-name":      "interface_name",
	"status":              "status",
	"mm-url":              "mm_url",
	"mm-user":             "mm_user",
	"secret-type":         "secret_type",
	"mm-secret":           "mm_secret",
	"mm-secret-cmd":       "mm_secret_cmd",
	"keyring-service":     "keyring_service",
	"state-dir":           "state_dir",
	"state-backend":       "state_backend",
	"begin":               "begin",
	"end":                 "end",
	"expires-at":          "expires_at",
	"delay":               "delay",
	"refresh-interval":    "refresh_interval",
	"mic-app-names":       "mic_app_names",
	"dnd-emoji":           "dnd_emoji",
	"dnd-text":            "dnd_text",
	"http-timeout":        "http_timeout",
	"auth-failure-policy": "auth_failure_policy",
	"auth-retry-interval": "auth_retry_interval",
	"metrics-addr":        "metrics_addr",
	"log-level":           "logging.level",
	"log-format":          "logging.format",
}

// RegisterFlags adds the agent flags to fs. Flags only override the other
// layers when they are set explicitly.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("interface-name", "", "wifi interface name")
	fs.StringArray("status", nil, "status template wifi_substring::emoji::text (repeatable, empty substring = off time)")
	fs.String("mm-url", "", "Mattermost server URL")
	fs.String("mm-user", "", "Mattermost login, also used as keyring user")
	fs.String("secret-type", "", "kind of secret: password or token")
	fs.String("mm-secret", "", "Mattermost password or token")
	fs.String("mm-secret-cmd", "", "command printing the Mattermost secret")
	fs.String("keyring-service", "", "OS keyring service holding the secret")
	fs.String("state-dir", "", "directory holding the persisted state")
	fs.String("state-backend", "", "state backend: file or sqlite")
	fs.String("begin", "", "beginning of the working hours (hh:mm)")
	fs.String("end", "", "end of the working hours (hh:mm)")
	fs.String("expires-at", "", "expiry time of the status (hh:mm, 0 for none)")
	fs.Int("delay", 0, "seconds between two checks, 0 to run once")
	fs.Duration("refresh-interval", 0, "re-send an unchanged status after this long")
	fs.StringSlice("mic-app-names", nil, "applications whose microphone use sets do not disturb")
	fs.String("dnd-emoji", "", "emoji of the do not disturb status")
	fs.String("dnd-text", "", "text of the do not disturb status")
	fs.Duration("http-timeout", 0, "timeout of Mattermost API requests")
	fs.String("auth-failure-policy", "", "on rejected credentials: retry or halt")
	fs.Duration("auth-retry-interval", 0, "minimum delay between attempts after an authentication failure")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: console or json")
}

// BindFlags binds the registered flags of fs to their configuration keys.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}
