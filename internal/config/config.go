package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile      = "config.yml"
	DefaultModel           = "gpt-4o"
	DefaultMetricsAddr     = ":9090"
	DefaultLogFormat       = "json"
	DefaultLogLevel        = "info"
	MinIdleRotateMinutes   = 5
	DefaultCooldownSeconds = 15
	DefaultRetries         = 20
	DefaultGlobalCooldown  = 60
	DefaultBlackoutStart   = 23
	DefaultBlackoutEnd     = 4
	DefaultBatchSize       = 5
)

// RotationConfig holds the credential rotation policy. It can be set in
// the rotation block of the YAML file and overridden from the environment.
type RotationConfig struct {
	CooldownSeconds       int `yaml:"cooldown_seconds"`
	Retries               int `yaml:"retries"`
	GlobalCooldownSeconds int `yaml:"global_cooldown_seconds"`
	IdleRotateMinutes     int `yaml:"idle_rotate_minutes"`
	BlackoutStartHour     int `yaml:"blackout_start_hour"`
	BlackoutEndHour       int `yaml:"blackout_end_hour"`
	ValidationBatchSize   int `yaml:"validation_batch_size"`
}

// Cooldown is the per-credential suspension after a failure.
func (r RotationConfig) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// GlobalCooldown is the sleep taken when every credential is cooling down.
func (r RotationConfig) GlobalCooldown() time.Duration {
	return time.Duration(r.GlobalCooldownSeconds) * time.Second
}

// IdleInterval is how long the pool may go unused before it rotates.
func (r RotationConfig) IdleInterval() time.Duration {
	return time.Duration(r.IdleRotateMinutes) * time.Minute
}

type fileConfig struct {
	Rotation RotationConfig `yaml:"rotation"`
}

// Config holds all configuration values
type Config struct {
	DiscordToken string
	APIKeys      []string
	BaseURL      string
	Model        string
	VisionModel  string
	Rotation     RotationConfig
	RedisURL     string
	MetricsAddr  string
	LogFormat    string
	LogLevel     string
}

// DefaultRotation returns the built-in rotation policy.
func DefaultRotation() RotationConfig {
	return RotationConfig{
		CooldownSeconds:       DefaultCooldownSeconds,
		Retries:               DefaultRetries,
		GlobalCooldownSeconds: DefaultGlobalCooldown,
		IdleRotateMinutes:     MinIdleRotateMinutes,
		BlackoutStartHour:     DefaultBlackoutStart,
		BlackoutEndHour:       DefaultBlackoutEnd,
		ValidationBatchSize:   DefaultBatchSize,
	}
}

// LoadConfig loads the .env file, the optional YAML file named by
// CONFIG_FILE and the environment, in increasing order of precedence.
func LoadConfig() (*Config, error) {
	// Try to load .env file (optional - may not exist in production)
	_ = godotenv.Load(".env")

	rotation, err := loadRotationFile(envOrDefault("CONFIG_FILE", DefaultConfigFile))
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		env    string
		target *int
	}{
		{"COOLDOWN_SECONDS", &rotation.CooldownSeconds},
		{"RETRIES", &rotation.Retries},
		{"GLOBAL_COOLDOWN_SECONDS", &rotation.GlobalCooldownSeconds},
		{"IDLE_ROTATE_MINUTES", &rotation.IdleRotateMinutes},
		{"BLACKOUT_START_HOUR", &rotation.BlackoutStartHour},
		{"BLACKOUT_END_HOUR", &rotation.BlackoutEndHour},
		{"VALIDATION_BATCH_SIZE", &rotation.ValidationBatchSize},
	}
	for _, o := range overrides {
		if err := envInt(o.env, o.target); err != nil {
			return nil, err
		}
	}
	if rotation.IdleRotateMinutes < MinIdleRotateMinutes {
		rotation.IdleRotateMinutes = MinIdleRotateMinutes
	}

	keys := splitKeys(os.Getenv("OPENAI_API_KEYS"))
	if len(keys) == 0 {
		keys = splitKeys(os.Getenv("OPENAI_API_KEY"))
	}

	config := &Config{
		DiscordToken: os.Getenv("DISCORD_TOKEN"),
		APIKeys:      keys,
		BaseURL:      os.Getenv("OPENAI_BASE_URL"),
		Model:        envOrDefault("OPENAI_MODEL", DefaultModel),
		VisionModel:  envOrDefault("OPENAI_VISION_MODEL", DefaultModel),
		Rotation:     rotation,
		RedisURL:     os.Getenv("REDIS_URL"),
		MetricsAddr:  envOrDefault("METRICS_ADDR", DefaultMetricsAddr),
		LogFormat:    envOrDefault("LOG_FORMAT", DefaultLogFormat),
		LogLevel:     envOrDefault("LOG_LEVEL", DefaultLogLevel),
	}

	return config, nil
}

// loadRotationFile reads the rotation block on top of the defaults. A
// missing file is not an error.
func loadRotationFile(path string) (RotationConfig, error) {
	fc := fileConfig{Rotation: DefaultRotation()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fc.Rotation, nil
	}
	if err != nil {
		return RotationConfig{}, wrapConfigError("CONFIG_FILE", "cannot read "+path, err)
	}

	if err := yaml.Unmarshal(data, &fc); err != nil {
		return RotationConfig{}, wrapConfigError("CONFIG_FILE", "invalid YAML in "+path, err)
	}
	return fc.Rotation, nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return NewConfigError("DISCORD_TOKEN", "environment variable is required")
	}

	if len(c.APIKeys) == 0 {
		return NewConfigError("OPENAI_API_KEYS or OPENAI_API_KEY", "at least one API key must be set")
	}

	r := c.Rotation
	if r.CooldownSeconds <= 0 {
		return NewConfigError("COOLDOWN_SECONDS", "must be positive")
	}
	if r.Retries <= 0 {
		return NewConfigError("RETRIES", "must be positive")
	}
	if r.GlobalCooldownSeconds <= 0 {
		return NewConfigError("GLOBAL_COOLDOWN_SECONDS", "must be positive")
	}
	if r.ValidationBatchSize <= 0 {
		return NewConfigError("VALIDATION_BATCH_SIZE", "must be positive")
	}
	if !validHour(r.BlackoutStartHour) {
		return NewConfigError("BLACKOUT_START_HOUR", "must be between 0 and 23")
	}
	if !validHour(r.BlackoutEndHour) {
		return NewConfigError("BLACKOUT_END_HOUR", "must be between 0 and 23")
	}

	return nil
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envInt overwrites *target when key is set. A value that is not an
// integer is a configuration error rather than silently ignored.
func envInt(key string, target *int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return wrapConfigError(key, "not an integer", err)
	}
	*target = i
	return nil
}

func splitKeys(s string) []string {
	var keys []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}
