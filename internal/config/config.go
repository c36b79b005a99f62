package config

import (
	"errors"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/return-etl/internal/failure"
	"github.com/sells-group/return-etl/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Warehouse     WarehouseConfig   `yaml:"warehouse" mapstructure:"warehouse"`
	LLM           LLMConfig         `yaml:"llm" mapstructure:"llm"`
	TagFilters    []model.TagFilter `yaml:"tag_filters" mapstructure:"tag_filters"`
	TagFilterFile string            `yaml:"tag_filter_file" mapstructure:"tag_filter_file"`
	Log           LogConfig         `yaml:"log" mapstructure:"log"`
}

// WarehouseConfig configures the warehouse connection.
type WarehouseConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Database string `yaml:"database" mapstructure:"database"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	// DSN overrides the individual fields; for sqlite it is the file path.
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// LLMConfig configures the annotation service.
type LLMConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	UnknownTags string `yaml:"unknown_tags" mapstructure:"unknown_tags"`
}

// providerDefaults holds the base URL and model used when unset. An empty
// base URL means the client library's default.
var providerDefaults = map[string][2]string{
	"deepseek":  {"https://api.deepseek.com", "deepseek-chat"},
	"anthropic": {"", "claude-sonnet-4-5-20250929"},
}

func (c *LLMConfig) applyProviderDefaults() {
	d, ok := providerDefaults[c.Provider]
	if !ok {
		return
	}
	if c.BaseURL == "" {
		c.BaseURL = d[0]
	}
	if c.Model == "" {
		c.Model = d[1]
	}
}

// Timeout returns the per-request timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. An empty path searches
// for environment.yaml in ./config and the working directory; a missing file
// is not an error in that case.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("environment")
		v.SetConfigType("yaml")
		v.AddConfigPath("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RETURNETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("warehouse.driver", "mysql")
	v.SetDefault("warehouse.host", "127.0.0.1")
	v.SetDefault("warehouse.port", 9030)
	v.SetDefault("warehouse.max_conns", 1)
	v.SetDefault("llm.provider", "deepseek")
	v.SetDefault("llm.timeout_secs", 60)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.unknown_tags", "drop")
	v.SetDefault("tag_filter_file", "config/tag_filters.yaml")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Bind keys that only exist in the file or env so AutomaticEnv sees them.
	for _, key := range []string{
		"warehouse.database", "warehouse.username", "warehouse.password", "warehouse.dsn",
		"llm.api_key", "llm.base_url", "llm.model",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, failure.Wrap(failure.KindConfig, err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, failure.Wrap(failure.KindConfig, err, "config: unmarshal")
	}

	cfg.LLM.applyProviderDefaults()

	if cfg.TagFilterFile != "" {
		extra, err := LoadTagFilters(cfg.TagFilterFile)
		if err != nil {
			return nil, err
		}
		cfg.TagFilters = append(cfg.TagFilters, extra...)
	}

	return &cfg, nil
}

// LoadTagFilters reads the optional secondary filter file. A missing file
// yields no filters.
func LoadTagFilters(path string) ([]model.TagFilter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, failure.Wrapf(failure.KindConfig, err, "config: read tag filters %s", path)
	}

	var doc struct {
		TagFilters []model.TagFilter `yaml:"tag_filters"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, failure.Wrapf(failure.KindConfig, err, "config: parse tag filters %s", path)
	}
	return doc.TagFilters, nil
}

// ValidateWarehouse checks the settings needed to open the warehouse.
func (c *Config) ValidateWarehouse() error {
	w := c.Warehouse
	switch w.Driver {
	case "sqlite":
		if w.DSN == "" {
			return failure.New(failure.KindConfig, "config: warehouse.dsn is required for the sqlite driver")
		}
	case "mysql", "postgres":
		if w.DSN != "" {
			return nil
		}
		var missing []string
		if w.Host == "" {
			missing = append(missing, "host")
		}
		if w.Port == 0 {
			missing = append(missing, "port")
		}
		if w.Database == "" {
			missing = append(missing, "database")
		}
		if w.Username == "" {
			missing = append(missing, "username")
		}
		if len(missing) > 0 {
			return failure.Errorf(failure.KindConfig, "config: warehouse missing %s", strings.Join(missing, ", "))
		}
	default:
		return failure.Errorf(failure.KindConfig, "config: unsupported warehouse driver: %s", w.Driver)
	}
	return nil
}

// ValidateLLM checks the settings needed to call the annotation service.
func (c *Config) ValidateLLM() error {
	l := c.LLM
	switch l.Provider {
	case "deepseek", "anthropic":
	default:
		return failure.Errorf(failure.KindConfig, "config: unsupported llm provider: %s", l.Provider)
	}
	if l.APIKey == "" {
		return failure.New(failure.KindConfig, "config: llm.api_key is required (RETURNETL_LLM_API_KEY)")
	}
	if l.Model == "" {
		return failure.New(failure.KindConfig, "config: llm.model is required")
	}
	if l.TimeoutSecs <= 0 {
		return failure.Errorf(failure.KindConfig, "config: llm.timeout_secs must be positive, got %d", l.TimeoutSecs)
	}
	return nil
}

// PostgresURL builds a connection string from the individual fields.
func (w WarehouseConfig) PostgresURL() string {
	if w.DSN != "" {
		return w.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(w.Username, w.Password),
		Host:   net.JoinHostPort(w.Host, strconv.Itoa(w.Port)),
		Path:   "/" + w.Database,
	}
	return u.String()
}

// NewLogger builds a zap logger for cfg.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	return logger, nil
}

// InitLogger builds a logger and installs it as the zap global.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
