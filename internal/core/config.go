package core

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator"
	"github.com/jo-hoe/goannotate/internal/backend/commandstructure"
	"gopkg.in/yaml.v3"
)

// JWTSecretEnv overrides auth.secret so the secret can stay out of the config file.
const JWTSecretEnv = "AUTH_JWT_SECRET"

const (
	defaultPort           = 8080
	defaultReadTimeout    = 30 * time.Second
	defaultWriteTimeout   = 60 * time.Second
	defaultMaxOpenConns   = 10
	defaultCacheTTL       = 10 * time.Minute
	defaultCacheKeyPrefix = "goannotate:"
	defaultBodyLimit      = "20M"
)

// CommandConfig represents a generic command configuration
type CommandConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:",inline"`
}

type Server struct {
	ReadTimeout  time.Duration `yaml:"readTimeout" validate:"min=0"`
	WriteTimeout time.Duration `yaml:"writeTimeout" validate:"min=0"`
	// BodyLimit caps request bodies, e.g. "20M".
	BodyLimit string `yaml:"bodyLimit"`
}

type Database struct {
	Type             string `yaml:"type" validate:"oneof=sqlite postgres"`
	ConnectionString string `yaml:"connectionString"`
	MaxOpenConns     int    `yaml:"maxOpenConns" validate:"min=1"`
}

type Cache struct {
	Enabled   bool          `yaml:"enabled"`
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db" validate:"min=0"`
	TTL       time.Duration `yaml:"ttl" validate:"min=0"`
	KeyPrefix string        `yaml:"keyPrefix"`
}

type Auth struct {
	Enabled    bool     `yaml:"enabled"`
	Secret     string   `yaml:"secret"`
	ReadRoles  []string `yaml:"readRoles"`
	WriteRoles []string `yaml:"writeRoles"`
}

type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type ServiceConfig struct {
	Port     int             `yaml:"port" validate:"min=0,max=65535"`
	Server   Server          `yaml:"server"`
	Database Database        `yaml:"database"`
	Cache    Cache           `yaml:"cache"`
	Auth     Auth            `yaml:"auth"`
	Logging  Logging         `yaml:"logging"`
	Commands []CommandConfig `yaml:"commands"`
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return config, nil
}

// ParseConfig decodes YAML, fills in defaults and validates the result.
func ParseConfig(data []byte) (*ServiceConfig, error) {
	var config ServiceConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if secret := os.Getenv(JWTSecretEnv); secret != "" {
		config.Auth.Secret = secret
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaultWriteTimeout
	}
	if c.Server.BodyLimit == "" {
		c.Server.BodyLimit = defaultBodyLimit
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = defaultCacheTTL
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = defaultCacheKeyPrefix
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks field constraints and the cross-field rules the tags cannot express.
func (c *ServiceConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Cache.Enabled && c.Cache.Address == "" {
		return fmt.Errorf("cache.address is required when the cache is enabled")
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret (or %s) is required when auth is enabled", JWTSecretEnv)
	}
	if err := validateCommands(c.Commands); err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}
	return nil
}

// validateCommands ensures all command configurations have required fields
func validateCommands(commands []CommandConfig) error {
	seenNames := make(map[string]bool)

	for i, cmd := range commands {
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}
		if !commandstructure.DefaultRegistry.IsRegistered(cmd.Name) {
			return fmt.Errorf("command at index %d: unknown command %s", i, cmd.Name)
		}
		if seenNames[cmd.Name] {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		seenNames[cmd.Name] = true
	}

	return nil
}

func (c *ServiceConfig) commandConfigs() []commandstructure.CommandConfig {
	configs := make([]commandstructure.CommandConfig, 0, len(c.Commands))
	for _, cmd := range c.Commands {
		configs = append(configs, commandstructure.CommandConfig{Name: cmd.Name, Params: cmd.Params})
	}
	return configs
}
