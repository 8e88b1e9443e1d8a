package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/freekieb7/cinder/http"
)

const (
	EnvPrefix = "CINDER_"
	redacted  = "********"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Static    StaticConfig    `yaml:"static"`
	CORS      CORSConfig      `yaml:"cors"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Mail      MailConfig      `yaml:"mail"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Address      string       `yaml:"address"`
	Name         string       `yaml:"name"`
	IdleTimeout  Duration     `yaml:"idle_timeout"`
	WriteTimeout Duration     `yaml:"write_timeout"`
	Limits       LimitsConfig `yaml:"limits"`
}

type LimitsConfig struct {
	MaxRequestLine SizeBytes `yaml:"max_request_line"`
	MaxHeaderSize  SizeBytes `yaml:"max_header_size"`
	MaxRequestSize SizeBytes `yaml:"max_request_size"`
}

// StaticConfig mounts a directory. An empty mount disables file serving;
// a non-empty spa_file answers every unmatched GET with that file.
type StaticConfig struct {
	Mount   string `yaml:"mount"`
	Route   string `yaml:"route"`
	Index   bool   `yaml:"index"`
	SPAFile string `yaml:"spa_file"`
}

type CORSConfig struct {
	Origin  string `yaml:"origin"`
	Methods string `yaml:"methods"`
	Headers string `yaml:"headers"`
}

// StorageConfig selects the backing store. An empty path keeps everything
// in memory.
type StorageConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	SessionTTL Duration `yaml:"session_ttl"`
	VerifyTTL  Duration `yaml:"verify_ttl"`
	SecretTTL  Duration `yaml:"secret_ttl"`
	PurgeCron  string   `yaml:"purge_cron"`
}

type MailConfig struct {
	Driver      string `yaml:"driver"` // log | smtp | api
	From        string `yaml:"from"`
	SMTPAddress string `yaml:"smtp_address"`
	SMTPUser    string `yaml:"smtp_user"`
	SMTPPass    string `yaml:"smtp_pass"`
	APIURL      string `yaml:"api_url"`
	APIToken    string `yaml:"api_token"`
}

// RateLimitConfig applies per client host. Zero rps disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:      "127.0.0.1:8080",
			Name:         http.DefaultServerName,
			IdleTimeout:  Duration(http.DefaultIdleTimeout),
			WriteTimeout: Duration(http.DefaultWriteTimeout),
			Limits: LimitsConfig{
				MaxRequestLine: http.MaxRequestLineSize,
				MaxHeaderSize:  http.MaxHeaderSize,
				MaxRequestSize: http.MaxRequestSize,
			},
		},
		Static: StaticConfig{
			Route: "/static",
			Index: true,
		},
		CORS: CORSConfig{
			Methods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
			Headers: "content-type, x-session-token",
		},
		Auth: AuthConfig{
			SessionTTL: Duration(30 * 24 * time.Hour),
			VerifyTTL:  Duration(30 * 24 * time.Hour),
			PurgeCron:  "0 * * * *",
		},
		Mail: MailConfig{
			Driver: "log",
			From:   "noreply@localhost",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "cinder",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .env into the environment, then the YAML file at path, then
// applies CINDER_* overrides. Neither file has to exist.
func Load(path string) (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SERVER_ADDRESS":         &cfg.Server.Address,
		"SERVER_NAME":            &cfg.Server.Name,
		"STATIC_MOUNT":           &cfg.Static.Mount,
		"STATIC_ROUTE":           &cfg.Static.Route,
		"STATIC_SPA_FILE":        &cfg.Static.SPAFile,
		"CORS_ORIGIN":            &cfg.CORS.Origin,
		"CORS_METHODS":           &cfg.CORS.Methods,
		"CORS_HEADERS":           &cfg.CORS.Headers,
		"STORAGE_PATH":           &cfg.Storage.Path,
		"AUTH_PURGE_CRON":        &cfg.Auth.PurgeCron,
		"MAIL_DRIVER":            &cfg.Mail.Driver,
		"MAIL_FROM":              &cfg.Mail.From,
		"MAIL_SMTP_ADDRESS":      &cfg.Mail.SMTPAddress,
		"MAIL_SMTP_USER":         &cfg.Mail.SMTPUser,
		"MAIL_SMTP_PASS":         &cfg.Mail.SMTPPass,
		"MAIL_API_URL":           &cfg.Mail.APIURL,
		"MAIL_API_TOKEN":         &cfg.Mail.APIToken,
		"TELEMETRY_SERVICE_NAME": &cfg.Telemetry.ServiceName,
		"LOGGING_LEVEL":          &cfg.Logging.Level,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"SERVER_IDLE_TIMEOUT":  &cfg.Server.IdleTimeout,
		"SERVER_WRITE_TIMEOUT": &cfg.Server.WriteTimeout,
		"AUTH_SESSION_TTL":     &cfg.Auth.SessionTTL,
		"AUTH_VERIFY_TTL":      &cfg.Auth.VerifyTTL,
		"AUTH_SECRET_TTL":      &cfg.Auth.SecretTTL,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	sizes := map[string]*SizeBytes{
		"SERVER_MAX_REQUEST_LINE": &cfg.Server.Limits.MaxRequestLine,
		"SERVER_MAX_HEADER_SIZE":  &cfg.Server.Limits.MaxHeaderSize,
		"SERVER_MAX_REQUEST_SIZE": &cfg.Server.Limits.MaxRequestSize,
	}
	for name, dst := range sizes {
		if v, ok := lookup(EnvPrefix + name); ok {
			s, err := ParseSize(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
			}
			*dst = s
		}
	}

	if v, ok := lookup(EnvPrefix + "STATIC_INDEX"); ok {
		cfg.Static.Index = parseBool(v)
	}
	if v, ok := lookup(EnvPrefix + "TELEMETRY_ENABLED"); ok {
		cfg.Telemetry.Enabled = parseBool(v)
	}
	if v, ok := lookup(EnvPrefix + "RATE_LIMIT_RPS"); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: %sRATE_LIMIT_RPS: %w", EnvPrefix, err)
		}
		cfg.RateLimit.RPS = rps
	}
	if v, ok := lookup(EnvPrefix + "RATE_LIMIT_BURST"); ok {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sRATE_LIMIT_BURST: %w", EnvPrefix, err)
		}
		cfg.RateLimit.Burst = burst
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate fails fast on settings the server cannot run with.
func (cfg Config) Validate() error {
	var errs []error

	if cfg.Server.Address == "" {
		errs = append(errs, errors.New("server.address is empty"))
	}
	limits := cfg.Server.Limits
	if limits.MaxRequestLine <= 0 || limits.MaxHeaderSize <= 0 || limits.MaxRequestSize <= 0 {
		errs = append(errs, errors.New("server.limits must be positive"))
	}
	if cfg.Server.IdleTimeout < 0 || cfg.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}
	if cfg.Static.Mount != "" && !strings.HasPrefix(cfg.Static.Route, "/") {
		errs = append(errs, errors.New("static.route must start with /"))
	}
	if cfg.Auth.SessionTTL <= 0 || cfg.Auth.VerifyTTL <= 0 {
		errs = append(errs, errors.New("auth ttls must be positive"))
	}
	if cfg.Auth.PurgeCron != "" && !gronx.IsValid(cfg.Auth.PurgeCron) {
		errs = append(errs, fmt.Errorf("auth.purge_cron: not a valid cron expression: %q", cfg.Auth.PurgeCron))
	}
	switch cfg.Mail.Driver {
	case "log":
	case "smtp":
		if cfg.Mail.SMTPAddress == "" {
			errs = append(errs, errors.New("mail.smtp_address is required for the smtp driver"))
		}
	case "api":
		if cfg.Mail.APIURL == "" {
			errs = append(errs, errors.New("mail.api_url is required for the api driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("mail.driver: unknown driver %q", cfg.Mail.Driver))
	}
	if cfg.RateLimit.RPS < 0 || cfg.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy with credentials masked, for printing.
func (cfg Config) Redacted() Config {
	if cfg.Mail.SMTPPass != "" {
		cfg.Mail.SMTPPass = redacted
	}
	if cfg.Mail.APIToken != "" {
		cfg.Mail.APIToken = redacted
	}
	return cfg
}

// Limits converts the configured ceilings for the server.
func (cfg Config) Limits() http.Limits {
	return http.Limits{
		MaxRequestLine: int(cfg.Server.Limits.MaxRequestLine),
		MaxHeaderSize:  int(cfg.Server.Limits.MaxHeaderSize),
		MaxRequestSize: cfg.Server.Limits.MaxRequestSize.Int64(),
	}
}

func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, fmt.Errorf("logging.level: %w", err)
	}
	return l, nil
}
