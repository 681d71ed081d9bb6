package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"PolicyWatch/internal/sources"
)

const (
	configPathEnv     = "POLICYWATCH_CONFIG"
	storageDriverEnv  = "POLICYWATCH_STORAGE_DRIVER"
	storagePathEnv    = "POLICYWATCH_STORAGE_PATH"
	storageDSNEnv     = "POLICYWATCH_STORAGE_DSN"
	httpAddrEnv       = "POLICYWATCH_HTTP_ADDR"
	logLevelEnv       = "LOG_LEVEL"
	openAIAPIKeyEnv   = "OPENAI_API_KEY"
	openAIModelEnv    = "OPENAI_MODEL"
	classifierURLEnv  = "CLASSIFIER_URL"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Storage drivers understood by the storage package.
const (
	DriverFile     = "file"
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Classifier providers.
const (
	ProviderOpenAI = "openai"
	ProviderHTTP   = "http"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	HTTP          HTTPConfig         `yaml:"http"`
	Storage       StorageConfig      `yaml:"storage"`
	Classifier    ClassifierConfig   `yaml:"classifier"`
	Research      ResearchConfig     `yaml:"research"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Notifications NotificationConfig `yaml:"notifications"`
	Sources       []sources.Source   `yaml:"sources"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// HTTPConfig configures the admin API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects the document store backing runs, findings, verifications and policies.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// ClassifierConfig defines how to reach the content classifier.
type ClassifierConfig struct {
	Provider     string        `yaml:"provider"`
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"apiKey"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ResearchConfig tunes crawling politeness and admission thresholds.
type ResearchConfig struct {
	PageDelay         time.Duration `yaml:"pageDelay"`
	ClassifyDelay     time.Duration `yaml:"classifyDelay"`
	SourceDelay       time.Duration `yaml:"sourceDelay"`
	MaxLinksPerSource int           `yaml:"maxLinksPerSource"`
	MaxPagesPerSource int           `yaml:"maxPagesPerSource"`
	MinRelevance      float64       `yaml:"minRelevance"`
	UserAgent         string        `yaml:"userAgent"`
	FetchTimeout      time.Duration `yaml:"fetchTimeout"`
	// OnlySources restricts runs to these source ids; empty crawls all.
	OnlySources       []string      `yaml:"onlySources"`
}

// SchedulerConfig defines whether and how often a run starts on its own.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := Default()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if fileCfg, err := Parse(raw); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
		} else {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()

	if len(cfg.Sources) == 0 {
		cfg.Sources = sources.Defaults()
	}

	return cfg
}

// Parse decodes a YAML document without applying defaults.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv(storageDriverEnv); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv(storagePathEnv); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(storageDSNEnv); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(openAIAPIKeyEnv); v != "" {
		c.Classifier.APIKey = v
	}
	if v := os.Getenv(openAIModelEnv); v != "" {
		c.Classifier.Model = v
	}
	if v := os.Getenv(classifierURLEnv); v != "" {
		c.Classifier.Provider = ProviderHTTP
		c.Classifier.Endpoint = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.HTTP.Addr != "" {
		base.HTTP.Addr = override.HTTP.Addr
	}

	if override.Storage.Driver != "" {
		base.Storage.Driver = override.Storage.Driver
	}
	if override.Storage.Path != "" {
		base.Storage.Path = override.Storage.Path
	}
	if override.Storage.DSN != "" {
		base.Storage.DSN = override.Storage.DSN
	}

	if override.Classifier.Provider != "" {
		base.Classifier.Provider = override.Classifier.Provider
	}
	if override.Classifier.Endpoint != "" {
		base.Classifier.Endpoint = override.Classifier.Endpoint
	}
	if override.Classifier.Model != "" {
		base.Classifier.Model = override.Classifier.Model
	}
	if override.Classifier.APIKey != "" {
		base.Classifier.APIKey = override.Classifier.APIKey
	}
	if override.Classifier.SystemPrompt != "" {
		base.Classifier.SystemPrompt = override.Classifier.SystemPrompt
	}
	if override.Classifier.Timeout > 0 {
		base.Classifier.Timeout = override.Classifier.Timeout
	}

	r := override.Research
	if r.PageDelay > 0 {
		base.Research.PageDelay = r.PageDelay
	}
	if r.ClassifyDelay > 0 {
		base.Research.ClassifyDelay = r.ClassifyDelay
	}
	if r.SourceDelay > 0 {
		base.Research.SourceDelay = r.SourceDelay
	}
	if r.MaxLinksPerSource > 0 {
		base.Research.MaxLinksPerSource = r.MaxLinksPerSource
	}
	if r.MaxPagesPerSource > 0 {
		base.Research.MaxPagesPerSource = r.MaxPagesPerSource
	}
	if r.MinRelevance > 0 {
		base.Research.MinRelevance = r.MinRelevance
	}
	if r.UserAgent != "" {
		base.Research.UserAgent = r.UserAgent
	}
	if r.FetchTimeout > 0 {
		base.Research.FetchTimeout = r.FetchTimeout
	}
	if len(r.OnlySources) > 0 {
		base.Research.OnlySources = r.OnlySources
	}

	if override.Scheduler.Enabled {
		base.Scheduler.Enabled = true
	}
	if override.Scheduler.Interval > 0 {
		base.Scheduler.Interval = override.Scheduler.Interval
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	return base
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Storage: StorageConfig{Driver: DriverFile, Path: "data"},
		Classifier: ClassifierConfig{
			Provider: ProviderOpenAI,
			Model:    "gpt-4o-mini",
			Timeout:  60 * time.Second,
		},
		Research: ResearchConfig{
			PageDelay:         2 * time.Second,
			ClassifyDelay:     1 * time.Second,
			SourceDelay:       3 * time.Second,
			MaxLinksPerSource: 15,
			MaxPagesPerSource: 5,
			MinRelevance:      0.5,
			UserAgent:         "PolicyWatch/1.0 (+https://github.com/policywatch)",
			FetchTimeout:      20 * time.Second,
		},
		Scheduler: SchedulerConfig{Enabled: false, Interval: 24 * time.Hour},
		Sources:   sources.Defaults(),
	}
}
