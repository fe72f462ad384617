package model

import "time"

// Config is the full medspan configuration tree.
type Config struct {
	Platform     PlatformConfig     `yaml:"platform" mapstructure:"platform"`
	License      LicenseConfig      `yaml:"license" mapstructure:"license"`
	Auth         AuthConfig         `yaml:"auth" mapstructure:"auth"`
	S3           S3Config           `yaml:"s3" mapstructure:"s3"`
	Gateway      GatewayConfig      `yaml:"gateway" mapstructure:"gateway"`
	Deid         DeidConfig         `yaml:"deid" mapstructure:"deid"`
	Pipeline     PipelineConfig     `yaml:"pipeline" mapstructure:"pipeline"`
	Translate    TranslateConfig    `yaml:"translate" mapstructure:"translate"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Neo4j        Neo4jConfig        `yaml:"neo4j" mapstructure:"neo4j"`
}

// PlatformConfig points at the hosted model platform.
type PlatformConfig struct {
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// LicenseConfig configures the license manager that hands out model public keys.
type LicenseConfig struct {
	ManagerURL string        `yaml:"manager_url" mapstructure:"manager_url"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	KeyTTL     time.Duration `yaml:"key_ttl" mapstructure:"key_ttl"`
}

// AuthConfig holds the user credentials for the platform token endpoint.
type AuthConfig struct {
	UserKey    string `yaml:"user_key" mapstructure:"user_key"`
	UserSecret string `yaml:"-" mapstructure:"user_secret"`
	Scope      string `yaml:"scope,omitempty" mapstructure:"scope"`
}

// S3Config configures the object store client.
type S3Config struct {
	Region          string `yaml:"region" mapstructure:"region"`
	Endpoint        string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	AccessKeyID     string `yaml:"-" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"-" mapstructure:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style" mapstructure:"use_path_style"`
	Bucket          string `yaml:"bucket,omitempty" mapstructure:"bucket"`
}

// GatewayConfig configures the inference server used by the NER pipeline.
type GatewayConfig struct {
	URL       string            `yaml:"url" mapstructure:"url"`
	Model     string            `yaml:"model" mapstructure:"model"`
	Headers   map[string]string `yaml:"headers,omitempty" mapstructure:"headers"`
	TextLimit int               `yaml:"text_limit" mapstructure:"text_limit"`
}

// DeidConfig configures the de-identification defaults.
type DeidConfig struct {
	PoolPath string `yaml:"pool_path" mapstructure:"pool_path"`
	Mask     bool   `yaml:"mask" mapstructure:"mask"`
	Fake     bool   `yaml:"fake" mapstructure:"fake"`
}

// PipelineConfig configures tokenizer and label mapping for the NER pipeline.
type PipelineConfig struct {
	TokenizerPath   string   `yaml:"tokenizer_path" mapstructure:"tokenizer_path"`
	ModelConfigPath string   `yaml:"model_config_path" mapstructure:"model_config_path"`
	MaxLength       int      `yaml:"max_length" mapstructure:"max_length"`
	WhiteList       []string `yaml:"white_list,omitempty" mapstructure:"white_list"`
	SentenceOffsets bool     `yaml:"sentence_offsets" mapstructure:"sentence_offsets"`

	Assertion ClassifierConfig `yaml:"assertion" mapstructure:"assertion"`
	Relation  ClassifierConfig `yaml:"relation" mapstructure:"relation"`
}

// ClassifierConfig describes a sequence classification model served by the
// gateway. An empty TokenizerPath reuses the NER tokenizer. Pairs only
// applies to relations and lists "FIRST:SECOND" label combinations.
type ClassifierConfig struct {
	Model           string   `yaml:"model,omitempty" mapstructure:"model"`
	ModelConfigPath string   `yaml:"model_config_path,omitempty" mapstructure:"model_config_path"`
	TokenizerPath   string   `yaml:"tokenizer_path,omitempty" mapstructure:"tokenizer_path"`
	WhiteList       []string `yaml:"white_list,omitempty" mapstructure:"white_list"`
	Pairs           []string `yaml:"pairs,omitempty" mapstructure:"pairs"`
}

// TranslateConfig configures the translation backend.
type TranslateConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"`
	BaseURL   string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	APIKey    string `yaml:"-" mapstructure:"api_key"`
	Model     string `yaml:"model" mapstructure:"model"`
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxWords  int    `yaml:"max_words" mapstructure:"max_words"`
	Target    string `yaml:"target" mapstructure:"target"`
}

// ConcurrencyConfig sets worker counts.
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// RateLimitingConfig applies per host.
type RateLimitingConfig struct {
	RequestsPerSecond float64            `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int                `yaml:"burst_size" mapstructure:"burst_size"`
	PerHost           map[string]float64 `yaml:"per_host,omitempty" mapstructure:"per_host"`
}

// CacheConfig controls the credential cache.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// HTTPConfig is shared by every outbound HTTP client.
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	HTTPProxy    string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy   string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy      string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`

	// RespectRobots checks robots.txt before fetching URL inputs.
	RespectRobots bool `yaml:"respect_robots" mapstructure:"respect_robots"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Neo4jConfig configures the relation graph writer.
type Neo4jConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"-" mapstructure:"password"`
	Database string `yaml:"database,omitempty" mapstructure:"database"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Platform: PlatformConfig{
			BaseURL:      "https://aimped.ai",
			PollInterval: 15 * time.Second,
		},
		License: LicenseConfig{
			MaxRetries: 5,
			RetryDelay: 5 * time.Second,
			KeyTTL:     24 * time.Hour,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Gateway: GatewayConfig{
			TextLimit: 3500,
		},
		Deid: DeidConfig{
			Mask: true,
		},
		Pipeline: PipelineConfig{
			MaxLength: 512,
		},
		Translate: TranslateConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			Timeout:   30,
			MaxTokens: 1000,
			MaxWords:  80,
			Target:    "en",
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 2,
			BurstSize:         5,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       "~/.medspan/cache",
			MemoryTTL: time.Hour,
			DiskTTL:   24 * time.Hour,
		},
		HTTP: HTTPConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "medspan/0.1",
			MaxBodyBytes: 10 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Neo4j: Neo4jConfig{
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
		},
	}
}
