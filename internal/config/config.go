package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// Config represents the complete amanrag configuration.
type Config struct {
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Web        WebConfig        `yaml:"web" json:"web"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "static" (offline hashing) or "ollama".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// Host is the Ollama API endpoint.
	Host      string `yaml:"host" json:"host"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the number of query embeddings kept in memory. 0 disables caching.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// Dimensions only applies to the static provider.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
}

// IndexConfig configures the local vector index.
type IndexConfig struct {
	// DataDir holds vectors.hnsw and documents.db. Relative paths resolve
	// against the directory the config was loaded from.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// ScoreMin and ScoreMax are the a-priori raw similarity range used to
	// rescale database scores into [0, 1]. Cosine similarity is [-1, 1].
	ScoreMin float64 `yaml:"score_min" json:"score_min"`
	ScoreMax float64 `yaml:"score_max" json:"score_max"`

	M        int `yaml:"m" json:"m"`
	EfSearch int `yaml:"ef_search" json:"ef_search"`
}

// IngestConfig configures document loading and chunking.
type IngestConfig struct {
	ChunkSize    int      `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap" json:"chunk_overlap"`
	Extensions   []string `yaml:"extensions" json:"extensions"`
}

// RetrievalConfig configures hybrid retrieval.
type RetrievalConfig struct {
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit"`
	// Oversample multiplies the limit for the database query so that
	// deduplication still leaves enough candidates.
	Oversample int           `yaml:"oversample" json:"oversample"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	IncludeWeb bool          `yaml:"include_web" json:"include_web"`
	// MinScore drops fused chunks whose normalized score is below it. 0 disables.
	MinScore float64 `yaml:"min_score" json:"min_score"`
}

// WebConfig configures web search and content extraction.
type WebConfig struct {
	EngineURL      string        `yaml:"engine_url" json:"engine_url"`
	MaxResults     int           `yaml:"max_results" json:"max_results"`
	SearchInterval time.Duration `yaml:"search_interval" json:"search_interval"`
	FetchInterval  time.Duration `yaml:"fetch_interval" json:"fetch_interval"`
	MaxConcurrency int           `yaml:"max_concurrency" json:"max_concurrency"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	MaxTextLength  int           `yaml:"max_text_length" json:"max_text_length"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`

	// BreakerFailures consecutive failed searches open the circuit for BreakerReset.
	BreakerFailures int           `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset" json:"breaker_reset"`
}

// DefaultUserAgent identifies outbound requests.
var DefaultUserAgent = "Mozilla/5.0 (compatible; " + version.Product() + "; +https://github.com/Aman-CERP/amanrag)"

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "nomic-embed-text",
			Host:       "http://localhost:11434",
			BatchSize:  32,
			CacheSize:  1000,
			Dimensions: 256,
		},
		Index: IndexConfig{
			DataDir:  ".amanrag",
			ScoreMin: -1,
			ScoreMax: 1,
			M:        16,
			EfSearch: 64,
		},
		Ingest: IngestConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			Extensions:   []string{".txt", ".md", ".pdf"},
		},
		Retrieval: RetrievalConfig{
			DefaultLimit: 10,
			MaxLimit:     100,
			Oversample:   2,
			Timeout:      20 * time.Second,
			IncludeWeb:   true,
		},
		Web: WebConfig{
			EngineURL:       "https://html.duckduckgo.com/html/",
			MaxResults:      5,
			SearchInterval:  time.Second,
			FetchInterval:   200 * time.Millisecond,
			MaxConcurrency:  4,
			FetchTimeout:    10 * time.Second,
			MaxTextLength:   5000,
			MaxBodyBytes:    5 << 20,
			UserAgent:       DefaultUserAgent,
			BreakerFailures: 3,
			BreakerReset:    time.Minute,
		},
		LogLevel: "warn",
	}
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/amanrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrag", "config.yaml")
}

// Load loads configuration for dir in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/amanrag/config.yaml)
//  3. Project config (.amanrag.yaml or .amanrag.yml in dir)
//  4. Environment variables (AMANRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	for _, name := range []string{".amanrag.yaml", ".amanrag.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
			break
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.Index.DataDir) {
		cfg.Index.DataDir = filepath.Join(dir, cfg.Index.DataDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML decodes path on top of the current values. Keys absent from
// the file keep their current value, so explicit false and 0 are honoured.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies AMANRAG_* environment variables.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"AMANRAG_EMBEDDINGS_PROVIDER": &c.Embeddings.Provider,
		"AMANRAG_EMBEDDINGS_MODEL":    &c.Embeddings.Model,
		"AMANRAG_OLLAMA_HOST":         &c.Embeddings.Host,
		"AMANRAG_DATA_DIR":            &c.Index.DataDir,
		"AMANRAG_ENGINE_URL":          &c.Web.EngineURL,
		"AMANRAG_USER_AGENT":          &c.Web.UserAgent,
		"AMANRAG_LOG_LEVEL":           &c.LogLevel,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"AMANRAG_DEFAULT_LIMIT":   &c.Retrieval.DefaultLimit,
		"AMANRAG_WEB_MAX_RESULTS": &c.Web.MaxResults,
		"AMANRAG_MAX_CONCURRENCY": &c.Web.MaxConcurrency,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s must be an integer, got %q", key, v)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"AMANRAG_TIMEOUT":         &c.Retrieval.Timeout,
		"AMANRAG_SEARCH_INTERVAL": &c.Web.SearchInterval,
		"AMANRAG_FETCH_INTERVAL":  &c.Web.FetchInterval,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s must be a duration, got %q", key, v)
			}
			*dst = d
		}
	}

	if v := os.Getenv("AMANRAG_INCLUDE_WEB"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AMANRAG_INCLUDE_WEB must be a boolean, got %q", v)
		}
		c.Retrieval.IncludeWeb = b
	}
	if v := os.Getenv("AMANRAG_MIN_SCORE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("AMANRAG_MIN_SCORE must be a number, got %q", v)
		}
		c.Retrieval.MinScore = f
	}

	return nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Embeddings.Provider) {
	case "static", "ollama":
	default:
		return fmt.Errorf("embeddings.provider must be 'static' or 'ollama', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.CacheSize < 0 {
		return fmt.Errorf("embeddings.cache_size must be non-negative, got %d", c.Embeddings.CacheSize)
	}

	if c.Index.ScoreMax <= c.Index.ScoreMin {
		return fmt.Errorf("index.score_max (%g) must be greater than index.score_min (%g)", c.Index.ScoreMax, c.Index.ScoreMin)
	}

	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}

	r := c.Retrieval
	if r.DefaultLimit < 0 {
		return fmt.Errorf("retrieval.default_limit must be non-negative, got %d", r.DefaultLimit)
	}
	if r.MaxLimit < r.DefaultLimit {
		return fmt.Errorf("retrieval.max_limit (%d) must be at least default_limit (%d)", r.MaxLimit, r.DefaultLimit)
	}
	if r.Oversample < 1 {
		return fmt.Errorf("retrieval.oversample must be at least 1, got %d", r.Oversample)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("retrieval.timeout must be positive, got %s", r.Timeout)
	}
	if r.MinScore < 0 || r.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be between 0 and 1, got %g", r.MinScore)
	}

	w := c.Web
	if w.MaxResults < 0 {
		return fmt.Errorf("web.max_results must be non-negative, got %d", w.MaxResults)
	}
	if w.MaxConcurrency < 1 {
		return fmt.Errorf("web.max_concurrency must be at least 1, got %d", w.MaxConcurrency)
	}
	if w.SearchInterval < 0 || w.FetchInterval < 0 {
		return fmt.Errorf("web intervals must be non-negative")
	}
	if w.MaxTextLength <= 0 {
		return fmt.Errorf("web.max_text_length must be positive, got %d", w.MaxTextLength)
	}
	if c.Retrieval.IncludeWeb && w.EngineURL == "" {
		return fmt.Errorf("web.engine_url is required when retrieval.include_web is set")
	}

	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	return nil
}

// VectorPath returns the HNSW graph file inside the data directory.
func (c *Config) VectorPath() string {
	return filepath.Join(c.Index.DataDir, "vectors.hnsw")
}

// DocumentsPath returns the SQLite document store inside the data directory.
func (c *Config) DocumentsPath() string {
	return filepath.Join(c.Index.DataDir, "documents.db")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := c.Render()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Render returns the configuration as YAML.
func (c *Config) Render() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
