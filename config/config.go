package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/spf13/viper"
)

// Config holds all configuration for the research service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // text or json
}

// ServerConfig contains HTTP and WebSocket settings
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	WSWriteTimeout  time.Duration `mapstructure:"ws_write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LLMConfig configures the completion and embedding provider. An empty
// APIKey runs the service in degraded mode.
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// ResearchConfig holds the pipeline knobs
type ResearchConfig struct {
	QueryCap        int           `mapstructure:"query_cap"`
	PerProvider     int           `mapstructure:"per_provider"`
	MaxSources      int           `mapstructure:"max_sources"`
	DeepQueryCap    int           `mapstructure:"deep_query_cap"`
	DeepPerProvider int           `mapstructure:"deep_per_provider"`
	ContentLimit    int           `mapstructure:"content_limit"`
	Pacing          time.Duration `mapstructure:"pacing"`
	WebTimeout      time.Duration `mapstructure:"web_timeout"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	ApprovalTTL     time.Duration `mapstructure:"approval_ttl"` // 0 keeps sessions awaiting approval forever
	Retention       time.Duration `mapstructure:"retention"`    // 0 keeps completed sessions
	SweepCron       string        `mapstructure:"sweep_cron"`
}

// SourcesConfig configures the retrieval backends
type SourcesConfig struct {
	WebSearch     WebSearchConfig     `mapstructure:"web_search"`
	Wikipedia     WikipediaConfig     `mapstructure:"wikipedia"`
	KnowledgeBase KnowledgeBaseConfig `mapstructure:"knowledge_base"`
	WebFetch      WebFetchConfig      `mapstructure:"web_fetch"`
}

type WebSearchConfig struct {
	Provider     string `mapstructure:"provider"` // brave or serper
	BraveAPIKey  string `mapstructure:"brave_api_key"`
	SerperAPIKey string `mapstructure:"serper_api_key"`
	Endpoint     string `mapstructure:"endpoint"`
}

// APIKey returns the key for the selected provider.
func (w WebSearchConfig) APIKey() string {
	if w.Provider == "serper" {
		return w.SerperAPIKey
	}
	return w.BraveAPIKey
}

type WikipediaConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Language  string `mapstructure:"language"`
	UserAgent string `mapstructure:"user_agent"`
}

type KnowledgeBaseConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Paths        []string `mapstructure:"paths"`
	ChunkSize    int      `mapstructure:"chunk_size"`
	ChunkOverlap int      `mapstructure:"chunk_overlap"`
	Embeddings   bool     `mapstructure:"embeddings"`
}

type WebFetchConfig struct {
	Fetcher  string        `mapstructure:"fetcher"` // http or chromedp
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// StorageConfig contains optional storage backends
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the event journal
type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          string        `mapstructure:"port"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	Timeout       time.Duration `mapstructure:"timeout"`
	JournalStream string        `mapstructure:"journal_stream"`
	JournalMaxLen int64         `mapstructure:"journal_max_len"`
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	ServiceName    string `mapstructure:"service_name"`
}

func (g GeneralConfig) Validate() error {
	switch g.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("general.log_format must be text or json, got %q", g.LogFormat)
	}
	return nil
}

// Normalize clamps values that would otherwise disable the pipeline.
func (r ResearchConfig) Normalize() ResearchConfig {
	if r.QueryCap <= 0 {
		r.QueryCap = 2
	}
	if r.PerProvider <= 0 {
		r.PerProvider = 2
	}
	if r.MaxSources <= 0 {
		r.MaxSources = 15
	}
	if r.DeepQueryCap < r.QueryCap {
		r.DeepQueryCap = r.QueryCap
	}
	if r.DeepPerProvider < r.PerProvider {
		r.DeepPerProvider = r.PerProvider
	}
	if r.ContentLimit < 0 {
		r.ContentLimit = 0
	}
	if r.Pacing < 0 {
		r.Pacing = 0
	}
	if r.ApprovalTTL < 0 {
		r.ApprovalTTL = 0
	}
	if r.Retention < 0 {
		r.Retention = 0
	}
	r.SweepCron = strings.TrimSpace(r.SweepCron)
	return r
}

func (r ResearchConfig) Validate() error {
	if r.SweepCron == "" {
		return nil
	}
	if _, err := cronexpr.Parse(r.SweepCron); err != nil {
		return fmt.Errorf("research.sweep_cron: %w", err)
	}
	return nil
}

func (w WebSearchConfig) Validate() error {
	switch w.Provider {
	case "", "brave", "serper":
		return nil
	default:
		return fmt.Errorf("sources.web_search.provider must be brave or serper, got %q", w.Provider)
	}
}

func (w WebFetchConfig) Validate() error {
	switch w.Fetcher {
	case "", "http", "chromedp":
		return nil
	default:
		return fmt.Errorf("sources.web_fetch.fetcher must be http or chromedp, got %q", w.Fetcher)
	}
}

func (k KnowledgeBaseConfig) Validate() error {
	if k.ChunkOverlap >= k.ChunkSize && k.ChunkSize > 0 {
		return fmt.Errorf("sources.knowledge_base.chunk_overlap must be smaller than chunk_size")
	}
	return nil
}

func (r RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	if strings.TrimSpace(r.JournalStream) == "" {
		return fmt.Errorf("storage.redis.journal_stream required")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "text")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.ws_write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("research.query_cap", 2)
	v.SetDefault("research.per_provider", 2)
	v.SetDefault("research.max_sources", 15)
	v.SetDefault("research.deep_query_cap", 4)
	v.SetDefault("research.deep_per_provider", 3)
	v.SetDefault("research.content_limit", 2000)
	v.SetDefault("research.pacing", 500*time.Millisecond)
	v.SetDefault("research.web_timeout", 10*time.Second)
	v.SetDefault("research.provider_timeout", 20*time.Second)
	v.SetDefault("research.cache_ttl", 10*time.Minute)
	v.SetDefault("research.approval_ttl", 24*time.Hour)
	v.SetDefault("research.retention", 0)
	v.SetDefault("research.sweep_cron", "* * * * *")

	v.SetDefault("sources.web_search.provider", "brave")
	v.SetDefault("sources.web_search.brave_api_key", "")
	v.SetDefault("sources.web_search.serper_api_key", "")
	v.SetDefault("sources.web_search.endpoint", "")
	v.SetDefault("sources.wikipedia.enabled", true)
	v.SetDefault("sources.wikipedia.endpoint", "")
	v.SetDefault("sources.wikipedia.language", "en")
	v.SetDefault("sources.wikipedia.user_agent", "researcher/1.0")
	v.SetDefault("sources.knowledge_base.enabled", true)
	v.SetDefault("sources.knowledge_base.paths", []string{"./data"})
	v.SetDefault("sources.knowledge_base.chunk_size", 1000)
	v.SetDefault("sources.knowledge_base.chunk_overlap", 200)
	v.SetDefault("sources.knowledge_base.embeddings", true)
	v.SetDefault("sources.web_fetch.fetcher", "http")
	v.SetDefault("sources.web_fetch.timeout", 15*time.Second)
	v.SetDefault("sources.web_fetch.max_chars", 20000)

	v.SetDefault("storage.redis.enabled", false)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.redis.journal_stream", "research.events")
	v.SetDefault("storage.redis.journal_max_len", 10000)

	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.service_name", "researcher")
}

// Load reads the config file (optional when path is empty), applies
// RESEARCHER_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)                                // bin/
		v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RESEARCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (RESEARCHER_*)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Research = cfg.Research.Normalize()

	for _, validate := range []func() error{
		cfg.General.Validate,
		cfg.Research.Validate,
		cfg.Sources.WebSearch.Validate,
		cfg.Sources.WebFetch.Validate,
		cfg.Sources.KnowledgeBase.Validate,
		cfg.Storage.Redis.Validate,
	} {
		if err := validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// LoadConfig is Load for process start-up: it panics on invalid configuration.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
