// Package config implements the layered configuration loader of spec.md §6:
// file defaults, overridden by environment variables, overridden by CLI
// flags, resolved into one fully-populated Config.
//
// Grounded on toolhive's cmd/vmcp/app/commands.go (viper.BindPFlag wiring a
// persistent --config flag and per-command flags into the same viper
// instance CLI flags read from) and cmd/thv-registry-api/app/serve.go (the
// BindPFlag-then-viper.GetString/GetInt accessor pattern); YAML section
// parsing goes through gopkg.in/yaml.v3, matching internal/registry's
// decoding of endpoint YAML.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ProviderConfig describes one upstream OIDC identity provider MXCP
// delegates authorization to (spec.md §4.6 ProviderAdapter).
type ProviderConfig struct {
	Name         string   `yaml:"name"`
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"` // ${ENV}, vault://, op:// or file:// reference, or a literal; resolved at startup
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// ScopeMappingConfig is one entry of the ScopeMapper's rule table
// (spec.md §4.7).
type ScopeMappingConfig struct {
	FromProviderScope string   `yaml:"from_provider_scope"`
	FromGroup         string   `yaml:"from_group"`
	FromRole          string   `yaml:"from_role"`
	Grants            []string `yaml:"grants"`
}

// TLSConfig optionally terminates TLS at the gateway's own listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ReloadConfig configures the ReloadCoordinator's triggers (spec.md §4.10).
type ReloadConfig struct {
	WatchFilesystem bool          `yaml:"watch_filesystem"`
	DebounceMS      int           `yaml:"debounce_ms"`
	WatchSignal     bool          `yaml:"watch_signal"`
}

// Debounce returns the configured debounce interval, defaulting to 500ms.
func (r ReloadConfig) Debounce() time.Duration {
	if r.DebounceMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(r.DebounceMS) * time.Millisecond
}

// Config is the gateway's fully-resolved runtime configuration.
type Config struct {
	ListenAddr      string               `yaml:"listen_addr"`
	AdminSocketPath string               `yaml:"admin_socket_path"`
	RegistryDir     string               `yaml:"registry_dir"`
	SQLiteDSN       string               `yaml:"sqlite_dsn"`
	AuditLogPath    string               `yaml:"audit_log_path"`
	Issuer          string               `yaml:"issuer"`
	TokenSigningKey string               `yaml:"token_signing_key"` // ${ENV}, vault://, op:// or file:// reference, or a literal
	RedisURL        string               `yaml:"redis_url"`         // empty selects the in-memory token store
	Providers       []ProviderConfig     `yaml:"providers"`
	ScopeMappings   []ScopeMappingConfig `yaml:"scope_mappings"`
	TLS             TLSConfig            `yaml:"tls"`
	Reload          ReloadConfig         `yaml:"reload"`
	LogLevel        string               `yaml:"log_level"`
	LogUnstructured bool                 `yaml:"log_unstructured"`
}

func defaults() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8443",
		AdminSocketPath: "/var/run/mxcpd/admin.sock",
		RegistryDir:     "./endpoints",
		SQLiteDSN:       "file:mxcp.db",
		AuditLogPath:    "./mxcp-audit.ndjson",
		LogLevel:        "info",
		Reload: ReloadConfig{
			WatchFilesystem: true,
			WatchSignal:     true,
			DebounceMS:      500,
		},
	}
}

// Loader layers a YAML file, MXCP_-prefixed environment variables and
// cobra-bound CLI flags into one viper instance.
type Loader struct {
	v *viper.Viper
}

// NewLoader wires a fresh viper instance with the environment-variable
// convention (MXCP_LISTEN_ADDR, MXCP_ISSUER, ...) this gateway uses.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("MXCP")
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Viper exposes the underlying *viper.Viper so cmd/mxcpd can bind cobra
// flags to it before Load is called (mirrors viper.BindPFlag in toolhive's
// command wiring).
func (l *Loader) Viper() *viper.Viper { return l.v }

// Load reads path (if non-empty) as the base YAML document, then applies
// environment and flag overrides already bound to the Loader's viper
// instance, and returns the fully-resolved Config.
func (l *Loader) Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(mustMarshalViperYAML(l.v), &fileCfg); err != nil {
			return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
		}
		cfg = mergeNonZero(cfg, fileCfg)
	}

	applyFlagOverrides(l.v, &cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mustMarshalViperYAML round-trips viper's merged settings map back through
// YAML so it can be decoded into the typed Config struct with yaml.v3 tags,
// rather than relying on viper's own mapstructure decoding (which doesn't
// honor yaml struct tags).
func mustMarshalViperYAML(v *viper.Viper) []byte {
	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		// AllSettings() is always a plain map[string]any; marshaling it
		// cannot fail in practice.
		panic(fmt.Sprintf("config: marshaling viper settings: %v", err))
	}
	return data
}

// applyFlagOverrides copies any CLI-flag-bound viper keys over the file-
// and-default-derived config, the same precedence toolhive's BindPFlag
// wiring gives flags over everything else.
func applyFlagOverrides(v *viper.Viper, cfg *Config) {
	if v.IsSet("listen_addr") {
		cfg.ListenAddr = v.GetString("listen_addr")
	}
	if v.IsSet("admin_socket_path") {
		cfg.AdminSocketPath = v.GetString("admin_socket_path")
	}
	if v.IsSet("registry_dir") {
		cfg.RegistryDir = v.GetString("registry_dir")
	}
	if v.IsSet("sqlite_dsn") {
		cfg.SQLiteDSN = v.GetString("sqlite_dsn")
	}
	if v.IsSet("issuer") {
		cfg.Issuer = v.GetString("issuer")
	}
	if v.IsSet("redis_url") {
		cfg.RedisURL = v.GetString("redis_url")
	}
	if v.IsSet("log_level") {
		cfg.LogLevel = v.GetString("log_level")
	}
}

// mergeNonZero overlays override's explicitly-set scalar/slice fields onto
// base, preserving base's defaults for anything the file left zero-valued.
func mergeNonZero(base, override Config) Config {
	if override.ListenAddr != "" {
		base.ListenAddr = override.ListenAddr
	}
	if override.AdminSocketPath != "" {
		base.AdminSocketPath = override.AdminSocketPath
	}
	if override.RegistryDir != "" {
		base.RegistryDir = override.RegistryDir
	}
	if override.SQLiteDSN != "" {
		base.SQLiteDSN = override.SQLiteDSN
	}
	if override.AuditLogPath != "" {
		base.AuditLogPath = override.AuditLogPath
	}
	if override.Issuer != "" {
		base.Issuer = override.Issuer
	}
	if override.TokenSigningKey != "" {
		base.TokenSigningKey = override.TokenSigningKey
	}
	if override.RedisURL != "" {
		base.RedisURL = override.RedisURL
	}
	if len(override.Providers) > 0 {
		base.Providers = override.Providers
	}
	if len(override.ScopeMappings) > 0 {
		base.ScopeMappings = override.ScopeMappings
	}
	if override.TLS.Enabled {
		base.TLS = override.TLS
	}
	if override.LogLevel != "" {
		base.LogLevel = override.LogLevel
	}
	base.LogUnstructured = base.LogUnstructured || override.LogUnstructured
	if override.Reload != (ReloadConfig{}) {
		base.Reload = override.Reload
	}
	return base
}

func validate(cfg Config) error {
	if cfg.Issuer == "" {
		return fmt.Errorf("config: issuer must be set")
	}
	if cfg.RegistryDir == "" {
		return fmt.Errorf("config: registry_dir must be set")
	}
	for i, p := range cfg.Providers {
		if p.IssuerURL == "" || p.ClientID == "" {
			return fmt.Errorf("config: providers[%d]: issuer_url and client_id are required", i)
		}
	}
	return nil
}
