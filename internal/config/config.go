package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig: driver = mysql | postgres | memory.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// AuthConfig lists the accepted HMAC secrets (the first one signs new tokens)
// and the places a token is looked up in, in order.
type AuthConfig struct {
	Secrets      []string      `yaml:"secrets"`
	TokenSources []string      `yaml:"token_sources"`
	AccessTTL    time.Duration `yaml:"access_ttl"`
	Leeway       time.Duration `yaml:"leeway"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

type TelegramConfig struct {
	BotToken    string `yaml:"bot_token"`
	ChatID      int64  `yaml:"chat_id"`
	APIEndpoint string `yaml:"api_endpoint"`
}

type EmailConfig struct {
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUser     string   `yaml:"smtp_user"`
	SMTPPassword string   `yaml:"smtp_password"`
	FromEmail    string   `yaml:"from_email"`
	To           []string `yaml:"to"`
}

type NotificationsConfig struct {
	// NotifyAll: по умолчанию уведомляем только о переходах в финальные статусы.
	NotifyAll bool           `yaml:"notify_all"`
	Telegram  TelegramConfig `yaml:"telegram"`
	Email     EmailConfig    `yaml:"email"`
}

type ExportConfig struct {
	FontPath string `yaml:"font_path"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Log           LogConfig           `yaml:"log"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Export        ExportConfig        `yaml:"export"`
	Tracing       TracingConfig       `yaml:"tracing"`
}

// Load reads the YAML file at path (a missing file is fine when path is the
// default one), applies BROKERCRM_* environment overrides and fills defaults.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	var cfg Config
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// конфиг по умолчанию не обязателен , всё можно задать через ENV
	default:
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("BROKERCRM_DB_DRIVER", &c.Database.Driver)
	str("BROKERCRM_DB_URL", &c.Database.DSN)
	str("BROKERCRM_LOG_LEVEL", &c.Log.Level)
	str("BROKERCRM_LOG_FORMAT", &c.Log.Format)
	str("BROKERCRM_TELEGRAM_TOKEN", &c.Notifications.Telegram.BotToken)
	str("BROKERCRM_SMTP_PASSWORD", &c.Notifications.Email.SMTPPassword)
	str("BROKERCRM_OTLP_ENDPOINT", &c.Tracing.Endpoint)

	if v, ok := lookup("BROKERCRM_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BROKERCRM_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("BROKERCRM_JWT_SECRETS"); ok && v != "" {
		c.Auth.Secrets = splitList(v)
	}
	if v, ok := lookup("BROKERCRM_TELEGRAM_CHAT_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("BROKERCRM_TELEGRAM_CHAT_ID: %w", err)
		}
		c.Notifications.Telegram.ChatID = id
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.Driver == "mariadb" {
		c.Database.Driver = "mysql"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if len(c.Auth.TokenSources) == 0 {
		c.Auth.TokenSources = []string{"header:Authorization"}
	}
	if c.Auth.AccessTTL == 0 {
		c.Auth.AccessTTL = 15 * time.Minute
	}
	if c.Auth.Leeway == 0 {
		c.Auth.Leeway = 2 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Notifications.Email.SMTPPort == 0 {
		c.Notifications.Email.SMTPPort = 587
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "brokercrm"
	}
}

// Validate checks the settings that have no sensible default.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.url is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if len(c.Auth.Secrets) == 0 {
		return errors.New("auth.secrets: at least one JWT secret is required")
	}
	for i, s := range c.Auth.Secrets {
		if len(s) < 16 {
			return fmt.Errorf("auth.secrets[%d]: secret must be at least 16 bytes", i)
		}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
