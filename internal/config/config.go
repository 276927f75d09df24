// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/jeranaias/localchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete localchat configuration.
type Config struct {
	// General settings
	Version      string `toml:"version" json:"version"`
	DefaultModel string `toml:"default_model" json:"default_model" validate:"required,max=256"`

	// SystemPrompt is prepended to every request and never stored in
	// transcripts.
	SystemPrompt string `toml:"system_prompt" json:"system_prompt" validate:"max=16384"`

	Engine    EngineConfig    `toml:"engine" json:"engine"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry" json:"telemetry"`
	UI        UIConfig        `toml:"ui" json:"ui"`
}

// EngineConfig selects and configures the inference engine.
type EngineConfig struct {
	Kind      string `toml:"kind" json:"kind" validate:"oneof=ollama openai"`
	OllamaURL string `toml:"ollama_url" json:"ollama_url" validate:"omitempty,url"`
	OpenAIURL string `toml:"openai_url" json:"openai_url" validate:"omitempty,url"`
	OpenAIKey string `toml:"openai_key" json:"openai_key"`

	// AutoStart spawns the Ollama daemon when it is not running.
	AutoStart bool `toml:"auto_start" json:"auto_start"`

	// LocalOnly refuses engine URLs and listen addresses that are not
	// loopback.
	LocalOnly bool `toml:"local_only" json:"local_only"`

	// LoadTimeoutSecs bounds a model load; 0 disables the bound.
	LoadTimeoutSecs int     `toml:"load_timeout_secs" json:"load_timeout_secs" validate:"gte=0,lte=86400"`
	Temperature     float64 `toml:"temperature" json:"temperature" validate:"gte=0,lte=2"`

	// Aliases map model ids to engine-specific names, overriding the
	// built-in catalog mapping.
	Aliases map[string]string `toml:"aliases" json:"aliases,omitempty"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	Backend        string `toml:"backend" json:"backend" validate:"oneof=sqlite badger"`
	DataDir        string `toml:"data_dir" json:"data_dir"`
	MaxTranscripts int    `toml:"max_transcripts" json:"max_transcripts" validate:"gte=1,lte=100000"`
}

// LoggingConfig contains structured log settings.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" validate:"oneof=debug info warn error"`
	File       string `toml:"file" json:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" validate:"gte=1,lte=1024"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" validate:"gte=0,lte=100"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" validate:"gte=0,lte=3650"`
	Stderr     bool   `toml:"stderr" json:"stderr"`
}

// TelemetryConfig contains tracing and metrics settings.
type TelemetryConfig struct {
	TracesEnabled bool   `toml:"traces_enabled" json:"traces_enabled"`
	TracesFile    string `toml:"traces_file" json:"traces_file"`

	// MetricsAddr serves Prometheus metrics when set, e.g. "127.0.0.1:9464".
	MetricsAddr string `toml:"metrics_addr" json:"metrics_addr" validate:"omitempty,hostname_port"`
}

// UIConfig contains REPL display settings.
type UIConfig struct {
	Markdown    bool   `toml:"markdown" json:"markdown"`
	ShowStats   bool   `toml:"show_stats" json:"show_stats"`
	HistoryFile string `toml:"history_file" json:"history_file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultModelID matches the catalog default.
const DefaultModelID = "Qwen2.5-1.5B-Instruct-q4f32_1-MLC"

// Default returns a Config with all default values set.
func Default() *Config {
	return &Config{
		Version:      "1.0",
		DefaultModel: DefaultModelID,
		Engine: EngineConfig{
			Kind:        "ollama",
			OllamaURL:   "http://127.0.0.1:11434",
			OpenAIURL:   "http://127.0.0.1:8080/v1",
			AutoStart:   true,
			LocalOnly:   true,
			Temperature: 0.7,
		},
		Storage: StorageConfig{
			Backend:        "sqlite",
			MaxTranscripts: 100,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		UI: UIConfig{
			Markdown:  true,
			ShowStats: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the localchat configuration directory path.
// LOCALCHAT_HOME overrides the default ~/.localchat.
func ConfigDir() (string, error) {
	if home := os.Getenv("LOCALCHAT_HOME"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".localchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}

// DataDir returns the resolved data directory.
func (c *Config) DataDir() string {
	if c.Storage.DataDir != "" {
		return expandHome(c.Storage.DataDir)
	}
	dir, err := ConfigDir()
	if err != nil {
		return ".localchat"
	}
	return dir
}

// StorePath returns the database file (sqlite) or directory (badger).
func (c *Config) StorePath() string {
	if c.Storage.Backend == "badger" {
		return filepath.Join(c.DataDir(), "badger")
	}
	return filepath.Join(c.DataDir(), "localchat.db")
}

// LogFile returns the resolved log file path.
func (c *Config) LogFile() string {
	if c.Logging.File != "" {
		return expandHome(c.Logging.File)
	}
	return filepath.Join(c.DataDir(), "logs", "localchat.log")
}

// TracesFile returns the resolved trace export path.
func (c *Config) TracesFile() string {
	if c.Telemetry.TracesFile != "" {
		return expandHome(c.Telemetry.TracesFile)
	}
	return filepath.Join(c.DataDir(), "logs", "traces.jsonl")
}

// HistoryFile returns the resolved REPL history path.
func (c *Config) HistoryFile() string {
	if c.UI.HistoryFile != "" {
		return expandHome(c.UI.HistoryFile)
	}
	return filepath.Join(c.DataDir(), "history")
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file, falling back to
// defaults when it does not exist. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPathTOML()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file with full
// validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys absent from the file keep
// their current values.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
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

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Written with 0600 permissions since it may hold an API key.
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# localchat configuration file\n")
	buf.WriteString("# Generated by localchat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
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
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// validatorInstance names fields by their TOML key so errors read like
// the config file.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate validates the configuration and returns ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := validatorInstance().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{
				Field:   fieldPath(fe.Namespace()),
				Message: describe(fe),
			})
		}
	}

	// Cross-field rules
	switch c.Engine.Kind {
	case "ollama":
		if c.Engine.OllamaURL == "" {
			errs = append(errs, ValidationError{Field: "engine.ollama_url", Message: "required when engine.kind is ollama"})
		}
	case "openai":
		if c.Engine.OpenAIURL == "" {
			errs = append(errs, ValidationError{Field: "engine.openai_url", Message: "required when engine.kind is openai"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("invalid value '%v', must be one of: %s", fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return fmt.Sprintf("invalid URL '%v'", fe.Value())
	case "hostname_port":
		return fmt.Sprintf("invalid address '%v', expected host:port", fe.Value())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed '%s' check", fe.Tag())
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies LOCALCHAT_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if model := os.Getenv("LOCALCHAT_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if prompt := os.Getenv("LOCALCHAT_SYSTEM_PROMPT"); prompt != "" {
		c.SystemPrompt = prompt
	}
	if kind := os.Getenv("LOCALCHAT_ENGINE"); kind != "" {
		c.Engine.Kind = strings.ToLower(kind)
	}
	// LOCALCHAT_BASE_URL targets whichever engine is selected
	if url := os.Getenv("LOCALCHAT_BASE_URL"); url != "" {
		if c.Engine.Kind == "openai" {
			c.Engine.OpenAIURL = url
		} else {
			c.Engine.OllamaURL = url
		}
	}
	if v := os.Getenv("LOCALCHAT_LOCAL_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Engine.LocalOnly = b
		}
	}
	if key := os.Getenv("LOCALCHAT_OPENAI_KEY"); key != "" {
		c.Engine.OpenAIKey = key
	}
	if dir := os.Getenv("LOCALCHAT_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
	if backend := os.Getenv("LOCALCHAT_STORAGE"); backend != "" {
		c.Storage.Backend = strings.ToLower(backend)
	}
	if level := os.Getenv("LOCALCHAT_LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
	if addr := os.Getenv("LOCALCHAT_METRICS_ADDR"); addr != "" {
		c.Telemetry.MetricsAddr = addr
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "engine.kind").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "engine.kind").
// The result is not validated; call Validate before saving.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks key through nested structs.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strings.ToLower(strVal))
			if err != nil {
				boolVal = strings.EqualFold(strVal, "yes")
			}
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all scalar configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"default_model",
		"system_prompt",
		"engine.kind",
		"engine.ollama_url",
		"engine.openai_url",
		"engine.openai_key",
		"engine.auto_start",
		"engine.local_only",
		"engine.load_timeout_secs",
		"engine.temperature",
		"storage.backend",
		"storage.data_dir",
		"storage.max_transcripts",
		"logging.level",
		"logging.file",
		"logging.max_size_mb",
		"logging.max_backups",
		"logging.max_age_days",
		"logging.stderr",
		"telemetry.traces_enabled",
		"telemetry.traces_file",
		"telemetry.metrics_addr",
		"ui.markdown",
		"ui.show_stats",
		"ui.history_file",
	}
}

// =============================================================================
// COPY AND DISPLAY
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Engine.Aliases != nil {
		clone.Engine.Aliases = make(map[string]string, len(c.Engine.Aliases))
		for k, v := range c.Engine.Aliases {
			clone.Engine.Aliases[k] = v
		}
	}
	return &clone
}

// String returns a JSON rendering with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Engine.OpenAIKey != "" {
		safe.Engine.OpenAIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access, falling back to defaults. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
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
// This should only be used in tests to reset state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
