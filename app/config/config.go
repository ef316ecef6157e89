package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the blog.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Content  ContentConfig  `yaml:"content"`
	Security SecurityConfig `yaml:"security"`
	Tokens   TokenConfig    `yaml:"tokens"`
	Mail     MailConfig     `yaml:"mail"`
	Blog     BlogConfig     `yaml:"blog"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	PublicURL      string        `yaml:"public_url"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

type StorageConfig struct {
	// Driver is one of badger, sqlite or postgres.
	Driver     string        `yaml:"driver"`
	Path       string        `yaml:"path"`
	DSN        string        `yaml:"dsn"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

type ContentConfig struct {
	PostsDir string `yaml:"posts_dir"`
	MediaDir string `yaml:"media_dir"`
}

type SecurityConfig struct {
	SecretKey       string        `yaml:"secret_key"`
	SessionCookie   string        `yaml:"session_cookie"`
	SessionLifetime time.Duration `yaml:"session_lifetime"`
	LoginRate       float64       `yaml:"login_rate"`
	LoginBurst      int           `yaml:"login_burst"`
}

type TokenConfig struct {
	FreshTTL   time.Duration `yaml:"fresh_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	ResetTTL   time.Duration `yaml:"reset_ttl"`
}

type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Sender   string `yaml:"sender"`
	// AdminAddress receives new comment notifications.
	AdminAddress string `yaml:"admin_address"`
	// ReservedAddresses may not be used to subscribe.
	ReservedAddresses []string      `yaml:"reserved_addresses"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
	// Disabled logs messages instead of delivering them.
	Disabled bool `yaml:"disabled"`
}

type BlogConfig struct {
	Authors []string `yaml:"authors"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Drivers accepted in storage.driver.
const (
	DriverBadger   = "badger"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Default returns a configuration suitable for local development.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			PublicURL:      "http://localhost:8080",
			MaxUploadBytes: 16 << 20,
			ShutdownGrace:  10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:     DriverBadger,
			Path:       "data/inkwell.db",
			GCInterval: 10 * time.Minute,
		},
		Content: ContentConfig{
			PostsDir: "data/posts",
			MediaDir: "data/post_media",
		},
		Security: SecurityConfig{
			SessionCookie:   "inkwell_session",
			SessionLifetime: 14 * 24 * time.Hour,
			LoginRate:       1,
			LoginBurst:      5,
		},
		Tokens: TokenConfig{
			FreshTTL:   10 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			ResetTTL:   15 * time.Minute,
		},
		Mail: MailConfig{
			Port:        587,
			SendTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// INKWELL_* environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse the config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("INKWELL_ADDR", &c.Server.Addr)
	str("INKWELL_PUBLIC_URL", &c.Server.PublicURL)
	str("INKWELL_STORAGE_DRIVER", &c.Storage.Driver)
	str("INKWELL_STORAGE_PATH", &c.Storage.Path)
	str("INKWELL_DATABASE_URL", &c.Storage.DSN)
	str("INKWELL_POSTS_DIR", &c.Content.PostsDir)
	str("INKWELL_MEDIA_DIR", &c.Content.MediaDir)
	str("INKWELL_SECRET_KEY", &c.Security.SecretKey)
	str("INKWELL_MAIL_HOST", &c.Mail.Host)
	str("INKWELL_MAIL_USERNAME", &c.Mail.Username)
	str("INKWELL_MAIL_PASSWORD", &c.Mail.Password)
	str("INKWELL_MAIL_SENDER", &c.Mail.Sender)
	str("INKWELL_ADMIN_ADDRESS", &c.Mail.AdminAddress)
	str("INKWELL_LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("INKWELL_MAIL_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INKWELL_MAIL_PORT: %w", err)
		}
		c.Mail.Port = port
	}
	if v, ok := lookup("INKWELL_MAIL_DISABLED"); ok && v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("INKWELL_MAIL_DISABLED: %w", err)
		}
		c.Mail.Disabled = disabled
	}
	if v, ok := lookup("INKWELL_AUTHORS"); ok && v != "" {
		var authors []string
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				authors = append(authors, a)
			}
		}
		c.Blog.Authors = authors
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Security.SecretKey == "" {
		errs = append(errs, errors.New("security.secret_key is required"))
	}
	switch c.Storage.Driver {
	case DriverBadger, DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for %s", c.Storage.Driver))
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if len(c.Blog.Authors) == 0 {
		errs = append(errs, errors.New("blog.authors must list at least one author"))
	}
	if c.Content.PostsDir == "" || c.Content.MediaDir == "" {
		errs = append(errs, errors.New("content.posts_dir and content.media_dir are required"))
	}
	if c.Tokens.FreshTTL <= 0 || c.Tokens.RefreshTTL <= 0 || c.Tokens.ResetTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.Tokens.RefreshTTL <= c.Tokens.FreshTTL {
		errs = append(errs, errors.New("tokens.refresh_ttl must be longer than tokens.fresh_ttl"))
	}
	if !c.Mail.Disabled && (c.Mail.Host == "" || c.Mail.Sender == "") {
		errs = append(errs, errors.New("mail.host and mail.sender are required unless mail.disabled is set"))
	}
	return errors.Join(errs...)
}
