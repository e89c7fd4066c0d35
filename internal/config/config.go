// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// EnvProduction is the APP_ENV value that selects the production mail transport.
const EnvProduction = "production"

type Config struct {
	Env       string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8431"`
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8431"`

	// TrustedProxies lists the addresses or CIDR ranges allowed to set X-Forwarded-For.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	Mail  Mail
	Token Token
	Queue Queue

	Database database.Config
	Log      utilities.Config
}

// Mail holds both the production and the sandbox (Mailtrap) credentials. Only
// one set is ever used by a running process.
type Mail struct {
	From     string `env:"EMAIL_FROM" envDefault:"Attendance"`
	Host     string `env:"EMAIL_HOST"`
	Port     int    `env:"EMAIL_PORT" envDefault:"587"`
	Username string `env:"EMAIL_USERNAME"`
	Password string `env:"EMAIL_PASSWORD"`

	SandboxHost     string `env:"MAILTRAP_HOST" envDefault:"sandbox.smtp.mailtrap.io"`
	SandboxUsername string `env:"MAILTRAP_USERNAME"`
	SandboxPassword string `env:"MAILTRAP_PASSWORD"`

	SendTimeout time.Duration `env:"MAIL_SEND_TIMEOUT" envDefault:"15s"`
}

type Token struct {
	Secret          string        `env:"TOKEN_SECRET"`
	Issuer          string        `env:"TOKEN_ISSUER" envDefault:"authaas"`
	ConfirmationTTL time.Duration `env:"CONFIRMATION_TOKEN_TTL" envDefault:"24h"`
	ResetTTL        time.Duration `env:"RESET_TOKEN_TTL" envDefault:"30m"`
	AccessTTL       time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
}

type Queue struct {
	Size           int           `env:"QUEUE_SIZE" envDefault:"1000"`
	Workers        int           `env:"QUEUE_WORKERS" envDefault:"2"`
	MaxAttempts    int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
	InitialBackoff time.Duration `env:"QUEUE_INITIAL_BACKOFF" envDefault:"10s"`
	MaxBackoff     time.Duration `env:"QUEUE_MAX_BACKOFF" envDefault:"30m"`
}

// IsProduction reports whether the deployment mode is production.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Load reads an optional .env file and parses the environment into a Config.
// A missing .env is not an error; real environment variables always win.
func Load() (Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse parses the current environment without touching .env files.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
		if cfg.Log.Dev {
			cfg.Log.Level = "debug"
		}
	}
	if cfg.IsProduction() && cfg.Token.Secret == "" {
		return Config{}, fmt.Errorf("TOKEN_SECRET is required in production")
	}
	if cfg.Token.Secret == "" {
		cfg.Token.Secret = "development-only-secret"
	}
	return cfg, nil
}
