// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const minSecretLength = 16

var supportedAlgorithms = []string{"HS256", "HS384", "HS512"}

type Config struct {
	Port        int      `env:"PORT" envDefault:"8080"`
	DatabaseURL string   `env:"DATABASE_URL" envDefault:"data/auth.db"`
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	Token  TokenConfig
	Google ProviderConfig `envPrefix:"GOOGLE_"`
	// Facebook shares the field names with Google under its own prefix.
	Facebook ProviderConfig `envPrefix:"FACEBOOK_"`
	SMTP     SMTPConfig
	OAuth    OAuthConfig
	Log      LogConfig

	FrontendURL       string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	DiscloseOAuthOnly bool   `env:"RESET_DISCLOSE_OAUTH_ONLY" envDefault:"true"`
}

type TokenConfig struct {
	SecretKey           string `env:"SECRET_KEY,required"`
	Algorithm           string `env:"ALGORITHM" envDefault:"HS256"`
	AccessExpireMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"30"`
	ResetExpireMinutes  int    `env:"RESET_PASSWORD_EXPIRES_MINUTES" envDefault:"15"`
}

func (c TokenConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessExpireMinutes) * time.Minute
}

func (c TokenConfig) ResetTTL() time.Duration {
	return time.Duration(c.ResetExpireMinutes) * time.Minute
}

// ProviderConfig holds one OAuth client registration.
type ProviderConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURI  string `env:"REDIRECT_URI"`
}

// Enabled reports whether the provider should be registered.
func (c ProviderConfig) Enabled() bool {
	return c.ClientID != ""
}

type SMTPConfig struct {
	Server   string        `env:"SMTP_SERVER"`
	Port     int           `env:"SMTP_PORT" envDefault:"587"`
	User     string        `env:"SMTP_USER"`
	Password string        `env:"SMTP_PASSWORD"`
	From     string        `env:"SMTP_FROM"`
	Timeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"10s"`
}

// Enabled reports whether real mail delivery is configured. Without it the
// service logs notifications instead of sending them.
func (c SMTPConfig) Enabled() bool {
	return c.Server != "" && c.From != ""
}

type OAuthConfig struct {
	RedisURL        string        `env:"REDIS_URL"`
	StateTTL        time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads an optional .env file, then parses the process environment.
// Variables already set in the environment win over .env entries.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}
	return parse(env.Options{})
}

// MigrateConfig is the subset of Config the migrate command needs. It does
// not require SECRET_KEY.
type MigrateConfig struct {
	DatabaseURL string `env:"DATABASE_URL" envDefault:"data/auth.db"`
	Log         LogConfig
}

// LoadMigrate is Load for MigrateConfig.
func LoadMigrate() (*MigrateConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}
	var cfg MigrateConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	return &cfg, nil
}

// FromMap parses cfg from vars alone, ignoring the process environment.
func FromMap(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Token.SecretKey) < minSecretLength {
		errs = append(errs, fmt.Errorf("SECRET_KEY must be at least %d characters", minSecretLength))
	}
	c.Token.Algorithm = strings.ToUpper(c.Token.Algorithm)
	if !slices.Contains(supportedAlgorithms, c.Token.Algorithm) {
		errs = append(errs, fmt.Errorf("ALGORITHM must be one of %s", strings.Join(supportedAlgorithms, ", ")))
	}
	if c.Token.AccessExpireMinutes <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_EXPIRE_MINUTES must be positive"))
	}
	if c.Token.ResetExpireMinutes <= 0 {
		errs = append(errs, errors.New("RESET_PASSWORD_EXPIRES_MINUTES must be positive"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.OAuth.StateTTL <= 0 {
		errs = append(errs, errors.New("OAUTH_STATE_TTL must be positive"))
	}
	if c.SMTP.Timeout <= 0 {
		errs = append(errs, errors.New("SMTP_TIMEOUT must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
