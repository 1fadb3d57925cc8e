package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	LLM           LLMConfig           `yaml:"llm"`
	Image         ImageConfig         `yaml:"image"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Storage       StorageConfig       `yaml:"storage"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Validation    ValidationConfig    `yaml:"validation"`
	Guideline     GuidelineConfig     `yaml:"guideline"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite, mysql
	DSN  string `yaml:"dsn"`
}

// LLMConfig configures the copywriting chat model. Provider "offline" uses the
// built-in template writer and never touches the network.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // openai, offline
	APIURL    string `yaml:"api_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type ImageConfig struct {
	Provider string `yaml:"provider"` // openai, offline
	APIURL   string `yaml:"api_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Size     string `yaml:"size"`
	Style    string `yaml:"style"` // photorealistic, artistic, minimalist, vibrant
}

type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // openai, genai, hash
	APIURL     string `yaml:"api_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// StorageConfig points at an S3 compatible bucket for generated images.
// An empty endpoint keeps the provider URLs as they are.
type StorageConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Bucket    string        `yaml:"bucket"`
	UseSSL    bool          `yaml:"use_ssl"`
	URLExpiry time.Duration `yaml:"url_expiry"`
}

type OrchestrationConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	InfraMaxAttempts int           `yaml:"infra_max_attempts"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	JobTimeout       time.Duration `yaml:"job_timeout"`
}

type ValidationConfig struct {
	TopK               int     `yaml:"top_k"`
	Threshold          float64 `yaml:"threshold"`
	SemanticWeight     float64 `yaml:"semantic_weight"`
	RuleWeight         float64 `yaml:"rule_weight"`
	MinChunkSimilarity float64 `yaml:"min_chunk_similarity"`
}

// GuidelineConfig controls chunking and the optional guideline directory that
// is synced into the index. An empty dir disables the sync.
type GuidelineConfig struct {
	ChunkSize     int           `yaml:"chunk_size"`
	MinChunkSize  int           `yaml:"min_chunk_size"`
	Dir           string        `yaml:"dir"`
	WatchInterval time.Duration `yaml:"watch_interval"`
}

var (
	cfg  *Config
	once sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		cfg = loadConfig()
	})
	return cfg
}

// Default returns the built-in configuration without reading files or the environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			DSN:  "./data/campaigns.db",
		},
		LLM: LLMConfig{
			Provider:  "openai",
			APIURL:    "https://api.openai.com/v1",
			Model:     "gpt-4o",
			MaxTokens: 1024,
		},
		Image: ImageConfig{
			Provider: "openai",
			APIURL:   "https://api.openai.com/v1",
			Model:    "dall-e-3",
			Size:     "1024x1024",
			Style:    "photorealistic",
		},
		Embedding: EmbeddingConfig{
			Provider:   "hash",
			Model:      "text-embedding-3-small",
			Dimensions: 256,
		},
		Storage: StorageConfig{
			Bucket:    "campaign-assets",
			URLExpiry: 24 * time.Hour,
		},
		Orchestration: OrchestrationConfig{
			MaxRetries:       3,
			InfraMaxAttempts: 3,
			CallTimeout:      60 * time.Second,
			BackoffBase:      500 * time.Millisecond,
			BackoffMax:       8 * time.Second,
			Workers:          4,
			QueueSize:        100,
			JobTimeout:       10 * time.Minute,
		},
		Validation: ValidationConfig{
			TopK:               5,
			Threshold:          0.5,
			SemanticWeight:     0.4,
			RuleWeight:         0.6,
			MinChunkSimilarity: 0.2,
		},
		Guideline: GuidelineConfig{
			ChunkSize:     500,
			MinChunkSize:  20,
			Dir:           "./data/guidelines",
			WatchInterval: 30 * time.Second,
		},
	}
}

func loadConfig() *Config {
	config := Default()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err == nil {
		yaml.Unmarshal(data, config)
	}

	applyEnv(config)
	return config
}

// applyEnv lets environment variables win over the config file.
func applyEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
		if config.Image.APIKey == "" {
			config.Image.APIKey = apiKey
		}
		if config.Embedding.APIKey == "" && config.Embedding.Provider == "openai" {
			config.Embedding.APIKey = apiKey
		}
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.LLM.APIURL = baseURL
		config.Image.APIURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL_NAME"); model != "" {
		config.LLM.Model = model
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if provider := os.Getenv("IMAGE_PROVIDER"); provider != "" {
		config.Image.Provider = provider
	}

	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if dbDSN := os.Getenv("DB_DSN"); dbDSN != "" {
		config.Database.DSN = dbDSN
	}

	if provider := os.Getenv("EMBEDDING_PROVIDER"); provider != "" {
		config.Embedding.Provider = provider
	}
	if key := os.Getenv("GENAI_API_KEY"); key != "" && config.Embedding.Provider == "genai" {
		config.Embedding.APIKey = key
	}

	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		config.Storage.Endpoint = endpoint
	}
	if ak := os.Getenv("MINIO_ACCESS_KEY"); ak != "" {
		config.Storage.AccessKey = ak
	}
	if sk := os.Getenv("MINIO_SECRET_KEY"); sk != "" {
		config.Storage.SecretKey = sk
	}
	if bucket := os.Getenv("MINIO_BUCKET"); bucket != "" {
		config.Storage.Bucket = bucket
	}

	if dir, ok := os.LookupEnv("GUIDELINES_DIR"); ok {
		config.Guideline.Dir = dir
	}

	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Orchestration.MaxRetries = n
		}
	}
	if v := os.Getenv("COMPLIANCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Validation.Threshold = f
		}
	}
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
