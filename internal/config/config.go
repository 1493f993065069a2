// Package config provides Viper-based configuration loading for the dmtable host.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cory-johannsen/dmtable/internal/game/actor"
)

// ParticipantConfig declares one AI participant at the table.
type ParticipantConfig struct {
	ID      string `mapstructure:"id"`
	Persona string `mapstructure:"persona"`
}

// SessionConfig holds the table and round settings.
type SessionConfig struct {
	// Director is the actor id of the game master.
	Director string `mapstructure:"director"`
	// HumanProxy is the actor id of the node that runs human-controlled turns.
	HumanProxy   string              `mapstructure:"human_proxy"`
	Participants []ParticipantConfig `mapstructure:"participants"`
	// MaxCombatRounds ends combat once exceeded. 0 means unlimited.
	MaxCombatRounds int `mapstructure:"max_combat_rounds"`
	// MaxRounds stops the host after this many rounds. 0 runs until interrupted.
	MaxRounds int `mapstructure:"max_rounds"`
	// RoundTimeout bounds one call to RunRound. 0 disables the timeout.
	RoundTimeout time.Duration `mapstructure:"round_timeout"`
	// History is the number of transcript lines shown to each actor.
	History int `mapstructure:"history"`
	// DiceSeed seeds initiative rolls. 0 uses crypto/rand.
	DiceSeed    uint64 `mapstructure:"dice_seed"`
	BestiaryDir string `mapstructure:"bestiary_dir"`
	// HooksDir holds the Lua round hooks. Empty disables scripting.
	HooksDir string `mapstructure:"hooks_dir"`
	// ScriptInstructionLimit caps the Lua instructions of one hook call.
	ScriptInstructionLimit int `mapstructure:"script_instruction_limit"`
}

// TurnOrder returns the exploration order: the director followed by every participant.
//
// Postcondition: Returns an error if any id fails to parse.
func (s SessionConfig) TurnOrder() ([]actor.ID, error) {
	names := make([]string, 0, len(s.Participants)+1)
	names = append(names, s.Director)
	for _, p := range s.Participants {
		names = append(names, p.ID)
	}
	return actor.ParseAll(names)
}

// Personas returns the persona of every participant keyed by actor id.
func (s SessionConfig) Personas() map[actor.ID]string {
	out := make(map[actor.ID]string, len(s.Participants))
	for _, p := range s.Participants {
		if id, err := actor.Parse(p.ID); err == nil && p.Persona != "" {
			out[id] = p.Persona
		}
	}
	return out
}

// StorageConfig selects the checkpoint store.
type StorageConfig struct {
	// Backend is one of "memory", "postgres" or "sqlite".
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// LLMConfig holds the Anthropic Messages API settings.
type LLMConfig struct {
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
	// APIKey falls back to ANTHROPIC_API_KEY when empty.
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// TracingConfig holds OpenTelemetry export settings.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Endpoint is the OTLP/HTTP traces URL.
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Config is the top-level application configuration.
type Config struct {
	Session  SessionConfig  `mapstructure:"session"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateSession(c.Session); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateStorage(c.Storage); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Storage.Backend == "postgres" {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLLM(c.LLM); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateTracing(c.Tracing); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSession(s SessionConfig) error {
	var errs []string
	director, err := actor.Parse(s.Director)
	switch {
	case err != nil:
		errs = append(errs, fmt.Sprintf("session.director: %v", err))
	case director.IsNPC():
		errs = append(errs, fmt.Sprintf("session.director must be a plain id, got %q", s.Director))
	}
	proxy, err := actor.Parse(s.HumanProxy)
	switch {
	case err != nil:
		errs = append(errs, fmt.Sprintf("session.human_proxy: %v", err))
	case proxy.IsNPC() || proxy == director:
		errs = append(errs, fmt.Sprintf("session.human_proxy must be a plain id distinct from the director, got %q", s.HumanProxy))
	}
	seen := map[string]bool{s.Director: true}
	for i, p := range s.Participants {
		id, err := actor.Parse(p.ID)
		if err != nil {
			errs = append(errs, fmt.Sprintf("session.participants[%d]: %v", i, err))
			continue
		}
		if id.IsNPC() {
			errs = append(errs, fmt.Sprintf("session.participants[%d] must be a plain id, got %q", i, p.ID))
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("session.participants[%d] duplicates %q", i, p.ID))
		}
		if p.ID == s.HumanProxy {
			errs = append(errs, fmt.Sprintf("session.participants[%d] reuses the human proxy id %q", i, p.ID))
		}
		seen[p.ID] = true
	}
	if s.MaxCombatRounds < 0 {
		errs = append(errs, fmt.Sprintf("session.max_combat_rounds must be >= 0, got %d", s.MaxCombatRounds))
	}
	if s.MaxRounds < 0 {
		errs = append(errs, fmt.Sprintf("session.max_rounds must be >= 0, got %d", s.MaxRounds))
	}
	if s.RoundTimeout < 0 {
		errs = append(errs, "session.round_timeout must not be negative")
	}
	if s.History < 0 {
		errs = append(errs, fmt.Sprintf("session.history must be >= 0, got %d", s.History))
	}
	if s.ScriptInstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("session.script_instruction_limit must be >= 0, got %d", s.ScriptInstructionLimit))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateStorage(s StorageConfig) error {
	switch s.Backend {
	case "memory", "postgres":
		return nil
	case "sqlite":
		if s.SQLitePath == "" {
			return errors.New("storage.sqlite_path must not be empty for the sqlite backend")
		}
		return nil
	default:
		return fmt.Errorf("storage.backend must be one of [memory, postgres, sqlite], got %q", s.Backend)
	}
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateLLM(l LLMConfig) error {
	var errs []string
	if l.Model == "" {
		errs = append(errs, "llm.model must not be empty")
	}
	if l.MaxTokens < 1 {
		errs = append(errs, fmt.Sprintf("llm.max_tokens must be >= 1, got %d", l.MaxTokens))
	}
	if l.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("llm.max_retries must be >= 0, got %d", l.MaxRetries))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateTracing(t TracingConfig) error {
	if t.Enabled && t.Endpoint == "" {
		return errors.New("tracing.endpoint must not be empty when tracing is enabled")
	}
	if t.ServiceName == "" {
		return errors.New("tracing.service_name must not be empty")
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path loads defaults and environment only.
//
// Precondition: path must be empty or a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with DMTABLE_ prefix
	v.SetEnvPrefix("DMTABLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.director", "dm")
	v.SetDefault("session.human_proxy", "human")
	v.SetDefault("session.participants", []map[string]any{
		{"id": "aria", "persona": "A sharp-tongued elven ranger who trusts no one."},
		{"id": "brom", "persona": "A cheerful dwarven cleric with a fondness for ale."},
	})
	v.SetDefault("session.max_combat_rounds", 10)
	v.SetDefault("session.max_rounds", 0)
	v.SetDefault("session.round_timeout", "5m")
	v.SetDefault("session.history", 20)
	v.SetDefault("session.dice_seed", 0)
	v.SetDefault("session.bestiary_dir", "content/bestiary")
	v.SetDefault("session.hooks_dir", "content/hooks")
	v.SetDefault("session.script_instruction_limit", 100000)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.sqlite_path", "dmtable.db")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "dmtable")
	v.SetDefault("database.password", "dmtable")
	v.SetDefault("database.name", "dmtable")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("llm.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.max_tokens", 512)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_retries", 2)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "dmtable")
}
