// Package config loads the agent settings from defaults, a config file, the
// environment and command-line flags, and validates them into an AppConfig.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/matclab/automattermostatus/internal/agent"
	"github.com/matclab/automattermostatus/internal/policy"
	"github.com/matclab/automattermostatus/internal/secret"
	"github.com/matclab/automattermostatus/internal/state"
)

// AppName names the config file, the config and cache directories and the
// keyring service.
const AppName = "automattermostatus"

// EnvPrefix prefixes environment variables: AMS_MM_URL, AMS_LOGGING_LEVEL.
const EnvPrefix = "AMS"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// SetDefaults registers the default value of every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("interface_name", defaultInterface())
	v.SetDefault("status", []string{"home::house::working at home"})
	v.SetDefault("mm_url", "https://mattermost.example.com")
	v.SetDefault("mm_user", "")
	v.SetDefault("secret_type", "password")
	v.SetDefault("mm_secret", "")
	v.SetDefault("mm_secret_cmd", "")
	v.SetDefault("keyring_service", "")
	v.SetDefault("state_dir", defaultStateDir())
	v.SetDefault("state_backend", state.BackendFile)
	v.SetDefault("begin", "8:00")
	v.SetDefault("end", "19:30")
	v.SetDefault("expires_at", "19:30")
	v.SetDefault("delay", 60)
	v.SetDefault("refresh_interval", "1h")
	v.SetDefault("mic_app_names", []string{})
	v.SetDefault("dnd_emoji", "no_bell")
	v.SetDefault("dnd_text", "In a call")
	v.SetDefault("offdays", map[string]string{})
	v.SetDefault("http_timeout", "10s")
	v.SetDefault("auth_failure_policy", "retry")
	v.SetDefault("auth_retry_interval", "15m")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

func defaultInterface() string {
	switch runtime.GOOS {
	case "darwin":
		return "en0"
	case "windows":
		return "Wi-Fi"
	default:
		return "wlan0"
	}
}

func defaultStateDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, AppName)
}

// DefaultConfigDir is where the config file is looked up first.
func DefaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, AppName)
}

// DefaultConfigPath is where `config init` writes.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), AppName+".toml")
}

// LoadConfig layers defaults, the config file (configPath, or
// automattermostatus.{toml,yaml,json} in the user config dir or "."),
// AMS_* environment variables and the flags of fs that were set.
func LoadConfig(configPath string, fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(AppName)
		v.AddConfigPath(DefaultConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// No config file: defaults, environment and flags only.
	}

	if fs != nil {
		if err := BindFlags(v, fs); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// AppConfig is the validated, immutable configuration of a run.
type AppConfig struct {
	InterfaceName string
	Rules         policy.Rules
	MicApps       []string

	MattermostURL string
	User          string
	HTTPTimeout   time.Duration
	Secret        secret.Config

	StateDir     string
	StateBackend string

	Delay             time.Duration
	RefreshInterval   time.Duration
	AuthPolicy        agent.AuthPolicy
	AuthRetryInterval time.Duration

	MetricsAddr string
}

// SingleShot reports whether the agent runs one tick and exits.
func (c *AppConfig) SingleShot() bool { return c.Delay == 0 }

// AgentConfig returns the poll loop settings.
func (c *AppConfig) AgentConfig() agent.Config {
	return agent.Config{
		Rules:             c.Rules,
		MicApps:           c.MicApps,
		Delay:             c.Delay,
		RefreshInterval:   c.RefreshInterval,
		AuthPolicy:        c.AuthPolicy,
		AuthRetryInterval: c.AuthRetryInterval,
	}
}

// Validate checks the settings held by v and builds the AppConfig. All
// problems are reported together in an error wrapping ErrInvalid.
func Validate(v *viper.Viper) (*AppConfig, error) {
	var problems []string
	fail := func(key string, err error) {
		problems = append(problems, fmt.Sprintf("%s: %v", key, err))
	}

	cfg := &AppConfig{
		InterfaceName: v.GetString("interface_name"),
		MicApps:       stringList(v, "mic_app_names", ","),
		MattermostURL: strings.TrimSpace(v.GetString("mm_url")),
		User:          v.GetString("mm_user"),
		StateDir:      v.GetString("state_dir"),
		StateBackend:  strings.ToLower(v.GetString("state_backend")),
		MetricsAddr:   v.GetString("metrics_addr"),
	}

	templates, err := policy.ParseTemplates(stringList(v, "status", ";"))
	if err != nil {
		fail("status", err)
	}
	window, err := policy.ParseWindow(v.GetString("begin"), v.GetString("end"))
	if err != nil {
		fail("begin/end", err)
	}
	expiry, err := policy.ParseExpiry(v.GetString("expires_at"))
	if err != nil {
		fail("expires_at", err)
	}
	offdays, err := policy.ParseOffDays(v.GetStringMapString("offdays"))
	if err != nil {
		fail("offdays", err)
	}
	cfg.Rules = policy.Rules{
		Templates: templates,
		Window:    window,
		OffDays:   offdays,
		DoNotDisturb: policy.StatusTemplate{
			Emoji: v.GetString("dnd_emoji"),
			Text:  v.GetString("dnd_text"),
		},
		Expiry: expiry,
	}

	kind, err := secret.ParseKind(v.GetString("secret_type"))
	if err != nil {
		fail("secret_type", err)
	}
	cfg.Secret = secret.Config{
		Kind:           kind,
		Secret:         v.GetString("mm_secret"),
		Command:        v.GetString("mm_secret_cmd"),
		KeyringService: v.GetString("keyring_service"),
		KeyringUser:    cfg.User,
	}
	if kind == secret.Password && cfg.User == "" {
		fail("mm_user", errors.New("required when secret_type is password"))
	}

	if u, err := url.Parse(cfg.MattermostURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fail("mm_url", fmt.Errorf("%q is not an absolute http(s) URL", cfg.MattermostURL))
	}

	switch cfg.StateBackend {
	case state.BackendFile, state.BackendSQLite:
	default:
		fail("state_backend", fmt.Errorf("%q: must be %q or %q", cfg.StateBackend, state.BackendFile, state.BackendSQLite))
	}
	if cfg.StateDir == "" {
		fail("state_dir", errors.New("must not be empty"))
	}

	delay := v.GetInt("delay")
	if delay < 0 {
		fail("delay", fmt.Errorf("%d: must be zero or positive", delay))
	}
	cfg.Delay = time.Duration(delay) * time.Second

	cfg.RefreshInterval = positiveDuration(v, "refresh_interval", fail)
	cfg.HTTPTimeout = positiveDuration(v, "http_timeout", fail)
	cfg.AuthRetryInterval = positiveDuration(v, "auth_retry_interval", fail)

	cfg.AuthPolicy, err = agent.ParseAuthPolicy(v.GetString("auth_failure_policy"))
	if err != nil {
		fail("auth_failure_policy", err)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return cfg, nil
}

func positiveDuration(v *viper.Viper, key string, fail func(string, error)) time.Duration {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fail(key, err)
		return 0
	}
	if d <= 0 {
		fail(key, fmt.Errorf("%s: must be positive", raw))
	}
	return d
}

// stringList reads a list setting. Lists come as arrays from config files
// and flags; a plain string (environment) is split on sep.
func stringList(v *viper.Viper, key, sep string) []string {
	raw := v.Get(key)
	var items []string
	switch val := raw.(type) {
	case nil:
		return nil
	case string:
		items = strings.Split(val, sep)
	default:
		items = v.GetStringSlice(key)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// secretKeys are redacted by Settings.
var secretKeys = map[string]bool{"mm_secret": true}

// Settings returns the merged settings with secret values redacted.
func Settings(v *viper.Viper) map[string]any {
	all := v.AllSettings()
	for k := range secretKeys {
		if s, ok := all[k].(string); ok && s != "" {
			all[k] = "***"
		}
	}
	return all
}

// WriteDefault writes a config file holding the defaults to path. An
// existing file is left untouched and reported as an error.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	v := viper.New()
	SetDefaults(v)
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
