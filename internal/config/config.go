// Package config loads the blog configuration from defaults, an optional YAML
// file, .env files and the environment, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete blog configuration.
type Config struct {
	CMS     CMSConfig     `yaml:"cms"`
	Redis   RedisConfig   `yaml:"redis"`
	Server  ServerConfig  `yaml:"server"`
	Export  ExportConfig  `yaml:"export"`
	Logging LoggingConfig `yaml:"logging"`
}

// CMSConfig points the client at the CMS repository.
type CMSConfig struct {
	Endpoint    string        `yaml:"endpoint" validate:"required,url"`
	AccessToken string        `yaml:"access_token"`
	UserAgent   string        `yaml:"user_agent" validate:"required"`
	PageSize    int           `yaml:"page_size" validate:"min=1,max=100"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries  int           `yaml:"max_retries" validate:"min=0,max=10"`
}

// RedisConfig enables the response cache when URL is set.
type RedisConfig struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxPages caps ?pages=N on the listing.
	MaxPages int `yaml:"max_pages" validate:"min=1"`
}

type ExportConfig struct {
	OutputDir string `yaml:"output_dir" validate:"required"`
	Parallel  bool   `yaml:"parallel"`
	Workers   int    `yaml:"workers" validate:"min=1,max=32"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		CMS: CMSConfig{
			UserAgent:  "SpaceTraveling/1.0",
			PageSize:   20,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxPages:        10,
		},
		Export: ExportConfig{
			OutputDir: "out",
			Workers:   4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	LoadDotEnv()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	setBool := func(key string, dst *bool) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = b
		return nil
	}

	setString("PRISMIC_API_ENDPOINT", &c.CMS.Endpoint)
	setString("PRISMIC_ACCESS_TOKEN", &c.CMS.AccessToken)
	setString("USER_AGENT", &c.CMS.UserAgent)
	setString("REDIS_URL", &c.Redis.URL)
	setString("OUTPUT_DIR", &c.Export.OutputDir)
	setString("LOG_LEVEL", &c.Logging.Level)
	c.Logging.Level = strings.ToLower(c.Logging.Level)

	for key, dst := range map[string]*int{
		"PORT":      &c.Server.Port,
		"PAGE_SIZE": &c.CMS.PageSize,
	} {
		if err := setInt(key, dst); err != nil {
			return err
		}
	}

	return setBool("LOG_PRETTY", &c.Logging.Pretty)
}

// Validate checks the configuration against its field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// Addr returns the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}
