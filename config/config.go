/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/PivotLLM/AIFlow/global"
)

//go:embed config-example.json
var defaultConfig []byte

// DefaultConfig returns the configuration file written on first run
func DefaultConfig() []byte {
	return append([]byte(nil), defaultConfig...)
}

// setupDefaultConfig creates a default config file from the embedded example
func setupDefaultConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}

	return nil
}

// Config provides access to application configuration
type Config struct {
	configPath string      // resolved path to config file
	data       *configData // parsed configuration
	firstRun   bool        // true if config was just created
	outputDir  string      // resolved results directory
	promptsDir string      // resolved prompt registry override (optional)
}

// configData holds the parsed configuration (internal)
type configData struct {
	Version            int       `json:"version"`
	BaseDir            string    `json:"base_dir"`
	OutputDir          string    `json:"output_dir,omitempty"`
	PromptsDir         string    `json:"prompts_dir,omitempty"`
	Model              Model     `json:"model"`
	Scheduler          Scheduler `json:"scheduler,omitempty"`
	Analysis           Analysis  `json:"analysis,omitempty"`
	RateLimit          RateLimit `json:"rate_limit,omitempty"`
	Logging            Logging   `json:"logging"`
	MarkNonDestructive bool      `json:"mark_non_destructive,omitempty"`
}

// Model configures the language model used by every analysis stage
type Model struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "command"
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	// APIKey may be a literal key or "env:NAME" to read it from the environment
	APIKey         string   `json:"api_key,omitempty"`
	BaseURL        string   `json:"base_url,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	MaxRetries     int      `json:"max_retries,omitempty"`
	RetryDelayMs   int      `json:"retry_delay_ms,omitempty"`

	// Command provider settings. Args use {{PROMPT}} as the prompt placeholder unless Stdin is true.
	Command           string   `json:"command,omitempty"`
	Args              []string `json:"args,omitempty"`
	Stdin             bool     `json:"stdin,omitempty"`
	RateLimitPatterns []string `json:"rate_limit_patterns,omitempty"`
}

// TemperatureValue returns the sampling temperature, or the default when unset
func (m Model) TemperatureValue() float64 {
	if m.Temperature == nil {
		return global.DefaultTemperature
	}
	return *m.Temperature
}

// Scheduler configures the job scheduler
type Scheduler struct {
	MaxConcurrent      int `json:"max_concurrent,omitempty"`
	MaxQueueSize       int `json:"max_queue_size,omitempty"`
	StopTimeoutSeconds int `json:"stop_timeout_seconds,omitempty"`
}

// Analysis configures the analysis engine
type Analysis struct {
	ValidateResults   *bool `json:"validate_results,omitempty"`
	FileTreeDepth     int   `json:"file_tree_depth,omitempty"`
	Compress          bool  `json:"compress,omitempty"`
	LanguageDetection *bool `json:"language_detection,omitempty"`
	ConvertDocuments  bool  `json:"convert_documents,omitempty"`
}

// ShouldValidate reports whether saved reports are validated on write (default true)
func (a Analysis) ShouldValidate() bool {
	return a.ValidateResults == nil || *a.ValidateResults
}

// DetectLanguage reports whether language "auto" is resolved by detection (default true)
func (a Analysis) DetectLanguage() bool {
	return a.LanguageDetection == nil || *a.LanguageDetection
}

// RateLimit represents rate limiting configuration for model calls
type RateLimit struct {
	MaxRequests   int `json:"max_requests,omitempty"`
	PeriodSeconds int `json:"period_seconds,omitempty"`
}

// Logging represents logging configuration
type Logging struct {
	File  string `json:"file"`
	Level string `json:"level"`
}

// Option is a functional option for configuring Config
type Option func(*Config)

// New creates a new Config instance with optional configuration
func New(opts ...Option) *Config {
	c := &Config{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithConfigPath sets an explicit config file path
func WithConfigPath(path string) Option {
	return func(c *Config) {
		c.configPath = path
	}
}

// Load loads and validates configuration from file.
// If the config file doesn't exist, it is created from the embedded default.
func (c *Config) Load() error {
	configPath, err := c.resolveConfigPath()
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	c.configPath = configPath

	if !global.FileExists(configPath) {
		c.firstRun = true
		if err := setupDefaultConfig(configPath); err != nil {
			return fmt.Errorf("failed to create default config at %s: %w", configPath, err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg, err := parse(data, configPath)
	if err != nil {
		return err
	}
	c.data = cfg

	c.resolveBaseDir()

	if err := c.loadEnvFile(); err != nil {
		return err
	}

	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.normalizePaths(); err != nil {
		return fmt.Errorf("failed to normalize paths: %w", err)
	}

	return nil
}

// parse decodes strictly first so unknown fields are reported, then falls back to a lenient decode
func parse(data []byte, configPath string) (*configData, error) {
	var cfg configData
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		if !strings.Contains(err.Error(), "unknown field") {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
		_, _ = fmt.Fprintf(os.Stderr, "Warning: config file %s: %v\n", configPath, err)
		cfg = configData{}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}
	return &cfg, nil
}

// resolveConfigPath determines the config file path using precedence rules
func (c *Config) resolveConfigPath() (string, error) {
	// 1. Explicit path (from WithConfigPath option)
	if c.configPath != "" {
		return resolveToAbsolute(c.configPath)
	}

	// 2. Environment variable
	if envPath := os.Getenv(global.ConfigEnvVar); envPath != "" {
		return resolveToAbsolute(envPath)
	}

	// 3. Default: ~/.aiflow/config.json
	return filepath.Join(global.ExpandHomePath(global.DefaultBaseDir), global.DefaultConfigFileName), nil
}

// resolveBaseDir resolves the base_dir from config, falling back to the default
func (c *Config) resolveBaseDir() {
	if c.data.BaseDir == "" {
		c.data.BaseDir = global.ExpandHomePath(global.DefaultBaseDir)
		return
	}

	resolved := global.ExpandHomePath(c.data.BaseDir)
	if !filepath.IsAbs(resolved) {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: base_dir '%s' is not absolute, using default '%s'\n",
			c.data.BaseDir, global.DefaultBaseDir)
		resolved = global.ExpandHomePath(global.DefaultBaseDir)
	}

	c.data.BaseDir = resolved
}

// loadEnvFile loads <base_dir>/.env. Variables already set in the environment win.
func (c *Config) loadEnvFile() error {
	envPath := filepath.Join(c.data.BaseDir, global.DefaultEnvFileName)
	if err := godotenv.Load(envPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	return nil
}

func resolveToAbsolute(path string) (string, error) {
	expanded := global.ExpandHomePath(path)
	if filepath.IsAbs(expanded) {
		return expanded, nil
	}
	return filepath.Abs(expanded)
}

// resolvePath resolves a path relative to base_dir
// - If absolute, returns as-is
// - If starts with ~/, expands home directory
// - Otherwise, joins with base_dir
func (c *Config) resolvePath(path string) string {
	if path == "" {
		return ""
	}

	expanded := global.ExpandHomePath(path)
	if filepath.IsAbs(expanded) {
		return expanded
	}

	return filepath.Join(c.data.BaseDir, expanded)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.data.Version != 1 {
		if c.data.Version < 1 {
			return fmt.Errorf("config version %d is too old (expected 1)", c.data.Version)
		}
		return fmt.Errorf("config version %d is newer than supported (expected 1)", c.data.Version)
	}

	if err := validateModel(&c.data.Model); err != nil {
		return err
	}

	s := c.data.Scheduler
	if s.MaxConcurrent < 0 {
		return fmt.Errorf("scheduler max_concurrent cannot be negative")
	}
	if s.MaxQueueSize < 0 {
		return fmt.Errorf("scheduler max_queue_size cannot be negative")
	}
	if s.StopTimeoutSeconds < 0 {
		return fmt.Errorf("scheduler stop_timeout_seconds cannot be negative")
	}

	if _, err := global.ValidateFileTreeDepth(c.data.Analysis.FileTreeDepth); err != nil {
		return fmt.Errorf("analysis %w", err)
	}

	if c.data.RateLimit.MaxRequests < 0 || c.data.RateLimit.PeriodSeconds < 0 {
		return fmt.Errorf("rate_limit values cannot be negative")
	}

	return nil
}

func validateModel(m *Model) error {
	provider := m.Provider
	if provider == "" {
		provider = global.ProviderOpenAI
	}

	if m.MaxTokens < 0 {
		return fmt.Errorf("model max_tokens must be greater than 0")
	}
	if m.Temperature != nil && (*m.Temperature < 0 || *m.Temperature > 2) {
		return fmt.Errorf("model temperature must be between 0 and 2, got %g", *m.Temperature)
	}
	if _, err := global.ValidateTimeout(m.TimeoutSeconds); err != nil {
		return fmt.Errorf("model %w", err)
	}
	if _, err := global.ValidateMaxRetries(m.MaxRetries); err != nil {
		return fmt.Errorf("model %w", err)
	}
	if m.RetryDelayMs < 0 {
		return fmt.Errorf("model retry_delay_ms cannot be negative")
	}

	switch provider {
	case global.ProviderOpenAI:
		if m.APIKey == "" {
			return fmt.Errorf("model api_key is required for provider %s", provider)
		}
	case global.ProviderCommand:
		if m.Command == "" {
			return fmt.Errorf("model command cannot be empty for provider %s", provider)
		}
		if !m.Stdin {
			hasPromptPlaceholder := false
			for _, arg := range m.Args {
				if strings.Contains(arg, "{{PROMPT}}") {
					hasPromptPlaceholder = true
					break
				}
			}
			if !hasPromptPlaceholder {
				return fmt.Errorf("model args must contain {{PROMPT}} placeholder (or set stdin: true)")
			}
		}
		m.Command = global.ExpandHomePath(m.Command)
	default:
		return fmt.Errorf("invalid model provider '%s' (must be '%s' or '%s')",
			m.Provider, global.ProviderOpenAI, global.ProviderCommand)
	}

	return nil
}

// normalizePaths resolves all paths to absolute paths and creates the output directory
func (c *Config) normalizePaths() error {
	outputDir := c.data.OutputDir
	if outputDir == "" {
		outputDir = global.DefaultOutputDir
	}
	c.outputDir = c.resolvePath(outputDir)

	if err := os.MkdirAll(c.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory at %s: %w", c.outputDir, err)
	}

	c.promptsDir = c.resolvePath(c.data.PromptsDir)

	if c.data.Logging.File != "" {
		c.data.Logging.File = c.resolvePath(c.data.Logging.File)
	}

	return nil
}

// Getter methods

// Version returns the config version
func (c *Config) Version() int {
	return c.data.Version
}

// BaseDir returns the resolved base directory (always absolute)
func (c *Config) BaseDir() string {
	return c.data.BaseDir
}

// OutputDir returns the resolved results directory (always absolute)
func (c *Config) OutputDir() string {
	return c.outputDir
}

// PromptsDir returns the prompt registry override directory, or "" to use the embedded registry
func (c *Config) PromptsDir() string {
	return c.promptsDir
}

// Model returns the model configuration with defaults applied and the API key resolved
func (c *Config) Model() Model {
	m := c.data.Model
	if m.Provider == "" {
		m.Provider = global.ProviderOpenAI
	}
	if m.Model == "" && m.Provider == global.ProviderOpenAI {
		m.Model = global.DefaultModel
	}
	if m.MaxTokens <= 0 {
		m.MaxTokens = global.DefaultMaxTokens
	}
	if m.Temperature == nil {
		t := global.DefaultTemperature
		m.Temperature = &t
	}
	m.TimeoutSeconds, _ = global.ValidateTimeout(m.TimeoutSeconds)
	m.MaxRetries, _ = global.ValidateMaxRetries(m.MaxRetries)
	if m.RetryDelayMs <= 0 {
		m.RetryDelayMs = global.DefaultRetryDelayMs
	}
	m.APIKey = ResolveAPIKey(m.APIKey)
	return m
}

// Scheduler returns the scheduler configuration with defaults applied
func (c *Config) Scheduler() Scheduler {
	s := c.data.Scheduler
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = global.DefaultMaxConcurrent
	}
	if s.MaxQueueSize <= 0 {
		s.MaxQueueSize = global.DefaultMaxQueueSize
	}
	if s.StopTimeoutSeconds <= 0 {
		s.StopTimeoutSeconds = global.DefaultStopTimeoutSeconds
	}
	return s
}

// Analysis returns the analysis configuration with defaults applied
func (c *Config) Analysis() Analysis {
	a := c.data.Analysis
	a.FileTreeDepth, _ = global.ValidateFileTreeDepth(a.FileTreeDepth)
	return a
}

// RateLimit returns the rate limit configuration with defaults applied
func (c *Config) RateLimit() RateLimit {
	r := c.data.RateLimit
	if r.MaxRequests <= 0 {
		r.MaxRequests = global.DefaultRateLimitRequests
	}
	if r.PeriodSeconds <= 0 {
		r.PeriodSeconds = global.DefaultRateLimitPeriod
	}
	return r
}

// LogFile returns the resolved log file path (always absolute)
func (c *Config) LogFile() string {
	return c.data.Logging.File
}

// LogLevel returns the configured log level
func (c *Config) LogLevel() string {
	return c.data.Logging.Level
}

// MarkNonDestructive returns true if tools should be marked as non-destructive
func (c *Config) MarkNonDestructive() bool {
	return c.data.MarkNonDestructive
}

// IsFirstRun returns true if this is the first run (config was just created)
func (c *Config) IsFirstRun() bool {
	return c.firstRun
}

// ConfigPath returns the path to the loaded config file
func (c *Config) ConfigPath() string {
	return c.configPath
}

// ResolveAPIKey expands an "env:NAME" reference. Other values are returned unchanged.
func ResolveAPIKey(key string) string {
	if name, ok := strings.CutPrefix(key, global.EnvKeyPrefix); ok {
		return os.Getenv(strings.TrimSpace(name))
	}
	return key
}
