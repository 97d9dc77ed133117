// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigchat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Server  ServerConfig  `toml:"server" json:"server"`
	Reply   ReplyConfig   `toml:"reply" json:"reply"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	User    UserConfig    `toml:"user" json:"user"`
	UI      UIConfig      `toml:"ui" json:"ui"`
}

// ServerConfig configures the reply HTTP server.
type ServerConfig struct {
	Host string `toml:"host" json:"host"`
	Port int    `toml:"port" json:"port"`

	// CORSOrigins lists allowed browser origins. "*" allows any.
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`

	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int `toml:"rate_limit" json:"rate_limit"`
	RateBurst int `toml:"rate_burst" json:"rate_burst"`

	MaxBodyBytes int64 `toml:"max_body_bytes" json:"max_body_bytes"`
}

// ReplyConfig configures reply generation.
type ReplyConfig struct {
	// Mode is "local" (in-process generator) or "http" (remote server).
	Mode     string `toml:"mode" json:"mode"`
	Endpoint string `toml:"endpoint" json:"endpoint"`

	// Simulated latency range, in milliseconds.
	MinDelayMs int `toml:"min_delay_ms" json:"min_delay_ms"`
	MaxDelayMs int `toml:"max_delay_ms" json:"max_delay_ms"`
}

// StorageConfig selects and locates the persistence backend.
type StorageConfig struct {
	Backend    string `toml:"backend" json:"backend"`
	DataDir    string `toml:"data_dir" json:"data_dir"`
	SQLitePath string `toml:"sqlite_path" json:"sqlite_path"`
}

// UserConfig holds the identity used when none is given on the command line.
type UserConfig struct {
	Default string `toml:"default" json:"default"`
}

// UIConfig controls terminal rendering.
type UIConfig struct {
	Markdown bool   `toml:"markdown" json:"markdown"`
	WordWrap int    `toml:"word_wrap" json:"word_wrap"`
	Color    string `toml:"color" json:"color"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default values.
const (
	DefaultVersion      = "1.0.0"
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 3000
	DefaultRateLimit    = 100
	DefaultRateBurst    = 20
	DefaultMaxBodyBytes = 1 * 1024 * 1024
	DefaultMinDelayMs   = 500
	DefaultMaxDelayMs   = 1500
	DefaultWordWrap     = 80
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: DefaultVersion,
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			CORSOrigins:  []string{"*"},
			RateLimit:    DefaultRateLimit,
			RateBurst:    DefaultRateBurst,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
		Reply: ReplyConfig{
			Mode:       "local",
			Endpoint:   fmt.Sprintf("http://localhost:%d", DefaultPort),
			MinDelayMs: DefaultMinDelayMs,
			MaxDelayMs: DefaultMaxDelayMs,
		},
		Storage: StorageConfig{
			Backend: "file",
		},
		UI: UIConfig{
			Markdown: true,
			WordWrap: DefaultWordWrap,
			Color:    "auto",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigchat configuration directory. RIGCHAT_HOME
// overrides the default ~/.rigchat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RIGCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ActivePath returns the config file Load would read, or the TOML path if
// neither exists.
func ActivePath() (string, error) {
	tomlPath, err := ConfigPathTOML()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath, nil
	}
	jsonPath, err := ConfigPathJSON()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath, nil
	}
	return tomlPath, nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ActivePath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return LoadFromPath(path)
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg and fills missing values.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	// Booleans cannot be told apart from false after decoding.
	if !md.IsDefined("ui", "markdown") {
		cfg.UI.Markdown = Default().UI.Markdown
	}
	return fillDefaults(cfg)
}

// LoadJSON decodes a JSON file into cfg and fills missing values.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	def := Default()
	cfg.UI.Markdown = def.UI.Markdown
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// Server
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = defaults.Server.RateBurst
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = defaults.Server.MaxBodyBytes
	}

	// Reply
	if cfg.Reply.Mode == "" {
		cfg.Reply.Mode = defaults.Reply.Mode
	}
	if cfg.Reply.Endpoint == "" {
		cfg.Reply.Endpoint = defaults.Reply.Endpoint
	}
	if cfg.Reply.MinDelayMs == 0 && cfg.Reply.MaxDelayMs == 0 {
		cfg.Reply.MinDelayMs = defaults.Reply.MinDelayMs
		cfg.Reply.MaxDelayMs = defaults.Reply.MaxDelayMs
	}

	// Storage
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}

	// UI
	if cfg.UI.WordWrap == 0 {
		cfg.UI.WordWrap = defaults.UI.WordWrap
	}
	if cfg.UI.Color == "" {
		cfg.UI.Color = defaults.UI.Color
	}

	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# rigchat configuration file\n")
	b.WriteString("# Generated by rigchat - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration as indented JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasField reports whether any error concerns field.
func (e ValidateErrors) HasField(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the configuration and returns a ValidateErrors when
// anything is wrong.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port %d out of range 1-65535", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		add("server.rate_burst", "must be at least 1 when rate limiting is enabled")
	}
	if c.Server.MaxBodyBytes < 1 {
		add("server.max_body_bytes", "must be positive")
	}

	// Reply
	switch strings.ToLower(c.Reply.Mode) {
	case "local", "http":
	default:
		add("reply.mode", "invalid mode '%s', must be one of: local, http", c.Reply.Mode)
	}
	if c.Reply.MinDelayMs < 0 || c.Reply.MaxDelayMs < 0 {
		add("reply.min_delay_ms", "delays must not be negative")
	}
	if c.Reply.MaxDelayMs < c.Reply.MinDelayMs {
		add("reply.max_delay_ms", "max %d is below min %d", c.Reply.MaxDelayMs, c.Reply.MinDelayMs)
	}
	if strings.EqualFold(c.Reply.Mode, "http") {
		if u, err := url.Parse(c.Reply.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("reply.endpoint", "invalid URL '%s'", c.Reply.Endpoint)
		}
	}

	// Storage
	switch strings.ToLower(c.Storage.Backend) {
	case "file", "sqlite", "memory":
	default:
		add("storage.backend", "invalid backend '%s', must be one of: file, sqlite, memory", c.Storage.Backend)
	}

	// UI
	switch strings.ToLower(c.UI.Color) {
	case "auto", "always", "never":
	default:
		add("ui.color", "invalid value '%s', must be one of: auto, always, never", c.UI.Color)
	}
	if c.UI.WordWrap < 0 {
		add("ui.word_wrap", "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - PORT, RIGCHAT_PORT: server.port (RIGCHAT_PORT wins)
//   - RIGCHAT_HOST: server.host
//   - RIGCHAT_REPLY_MODE: reply.mode
//   - RIGCHAT_ENDPOINT: reply.endpoint
//   - RIGCHAT_MIN_DELAY_MS, RIGCHAT_MAX_DELAY_MS: reply latency
//   - RIGCHAT_STORAGE: storage.backend
//   - RIGCHAT_DATA_DIR: storage.data_dir
//   - RIGCHAT_SQLITE_PATH: storage.sqlite_path
//   - RIGCHAT_USER: user.default
//   - NO_COLOR: ui.color = never
func (c *Config) ApplyEnvOverrides() {
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	setInt("PORT", &c.Server.Port)
	setInt("RIGCHAT_PORT", &c.Server.Port)
	setString("RIGCHAT_HOST", &c.Server.Host)

	setString("RIGCHAT_REPLY_MODE", &c.Reply.Mode)
	setString("RIGCHAT_ENDPOINT", &c.Reply.Endpoint)
	setInt("RIGCHAT_MIN_DELAY_MS", &c.Reply.MinDelayMs)
	setInt("RIGCHAT_MAX_DELAY_MS", &c.Reply.MaxDelayMs)

	setString("RIGCHAT_STORAGE", &c.Storage.Backend)
	setString("RIGCHAT_DATA_DIR", &c.Storage.DataDir)
	setString("RIGCHAT_SQLITE_PATH", &c.Storage.SQLitePath)

	setString("RIGCHAT_USER", &c.User.Default)

	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		c.UI.Color = "never"
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.CORSOrigins != nil {
		clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	}
	return &clone
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return b.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// ErrNoGlobal is returned by ReloadGlobal when loading fails before any
// configuration was installed.
var ErrNoGlobal = errors.New("no global configuration")

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		globalConfigMu.RLock()
		missing := globalConfig == nil
		globalConfigMu.RUnlock()
		if missing {
			return fmt.Errorf("%w: %v", ErrNoGlobal, err)
		}
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
