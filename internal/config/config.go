// Package config loads server settings from flags, environment variables,
// an optional config file and defaults.
//
// PRECEDENCE (highest first):
//  1. Command-line flags (--port 9090)
//  2. Environment variables with the PHONEBOOK_ prefix (PHONEBOOK_PORT=9090).
//     Nested keys use underscores: github.client_id → PHONEBOOK_GITHUB_CLIENT_ID
//  3. The config file given with --config (YAML, TOML or JSON)
//  4. Defaults from setDefaults
//
// List values (auto_vouch_domains, cors.allowed_origins) can be given as a
// comma-separated string in env vars and flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PHONEBOOK"

// Config is the full server configuration.
type Config struct {
	Port             int             `mapstructure:"port"`
	DBPath           string          `mapstructure:"db_path"`
	JWTSecret        string          `mapstructure:"jwt_secret"`
	SiteURL          string          `mapstructure:"site_url"`
	BrowserID        BrowserIDConfig `mapstructure:"browserid"`
	GitHub           GitHubConfig    `mapstructure:"github"`
	AutoVouchDomains []string        `mapstructure:"auto_vouch_domains"`
	ReindexSchedule  string          `mapstructure:"reindex_schedule"`
	CORS             CORSConfig      `mapstructure:"cors"`
	LogLevel         string          `mapstructure:"log_level"`
	LogFormat        string          `mapstructure:"log_format"`
}

type BrowserIDConfig struct {
	VerifierURL string `mapstructure:"verifier_url"`
}

// GitHubConfig enables GitHub sign-in when ClientID is set.
type GitHubConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	CallbackURL  string `mapstructure:"callback_url"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// GitHubEnabled reports whether GitHub OAuth routes should be registered.
func (c *Config) GitHubEnabled() bool {
	return c.GitHub.ClientID != "" && c.GitHub.ClientSecret != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "data/phonebook.db")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("site_url", "http://localhost:8080")

	v.SetDefault("browserid.verifier_url", "https://verifier.login.persona.org/verify")

	v.SetDefault("github.client_id", "")
	v.SetDefault("github.client_secret", "")
	v.SetDefault("github.callback_url", "")

	v.SetDefault("auto_vouch_domains", []string{"mozilla.com", "mozilla.org", "mozillafoundation.org"})
	v.SetDefault("reindex_schedule", "@every 1h")
	v.SetDefault("cors.allowed_origins", []string{})

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// flags declares the command-line flags. Only the settings people change
// per run get a flag; everything else comes from env or the config file.
func flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (yaml, toml or json)")
	fs.Int("port", 8080, "HTTP listen port")
	fs.String("db-path", "data/phonebook.db", "SQLite database file, or :memory:")
	fs.String("site-url", "http://localhost:8080", "public origin, used as the BrowserID audience")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-format", "text", "text or json")
	fs.String("reindex-schedule", "@every 1h", "cron schedule for the search reindex job, empty to disable")
	return fs
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"port":             "port",
	"db-path":          "db_path",
	"site-url":         "site_url",
	"log-level":        "log_level",
	"log-format":       "log_format",
	"reindex-schedule": "reindex_schedule",
}

// Load parses args (without the program name) and builds the Config.
// It returns pflag.ErrHelp when --help was requested.
func Load(args []string) (*Config, error) {
	fs := flags("phonebook")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// BindPFlag only overrides the other sources when the flag was set
	// explicitly, so the flag defaults above never shadow env values.
	for flagName, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, fmt.Errorf("config: binding flag %s: %w", flagName, err)
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	cfg.AutoVouchDomains = splitList(cfg.AutoVouchDomains)
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)

	if cfg.GitHub.CallbackURL == "" {
		cfg.GitHub.CallbackURL = strings.TrimRight(cfg.SiteURL, "/") + "/auth/github/callback"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("jwt_secret must be at least 16 characters (PHONEBOOK_JWT_SECRET)"))
	}
	if c.SiteURL == "" {
		errs = append(errs, errors.New("site_url is required"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// NewLogger builds the process logger described by LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", s, err)
	}
	return level, nil
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
