package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/tagrec/pkg/tagrec/indexer"
	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
	"github.com/cognicore/tagrec/pkg/tagrec/mlt"
)

// Backends accepted in index.backend. Both persist the index beyond the
// process; the in-memory engine is only available as a library.
const (
	BackendSQLite        = "sqlite"
	BackendElasticsearch = "elasticsearch"
)

// Config is the full runtime configuration.
type Config struct {
	Index         Index         `yaml:"index"`
	Query         Query         `yaml:"query"`
	Analysis      Analysis      `yaml:"analysis"`
	Elasticsearch Elasticsearch `yaml:"elasticsearch"`
	HTTP          HTTP          `yaml:"http"`
	Logging       Logging       `yaml:"logging"`
}

// Index configures the engine and the indexing run.
type Index struct {
	Backend         string `yaml:"backend"`
	BatchSize       int    `yaml:"batch_size"`
	CorpusSizeHint  int64  `yaml:"corpus_size_hint"`
	RAMBufferSizeMB int    `yaml:"ram_buffer_mb"`
	InMemory        bool   `yaml:"in_memory"`
	CommitRetries   int    `yaml:"commit_retries"`
	CommitBackoffMS int    `yaml:"commit_backoff_ms"`
}

// Query configures recommendation.
type Query struct {
	TopK           int      `yaml:"top_k"`
	ScoreThreshold *float64 `yaml:"score_threshold"` // nil means 0.07; 0 keeps every tag
	MaxQueryTerms  int      `yaml:"max_query_terms"`
	MinTermFreq    int      `yaml:"min_term_freq"`
	MinDocFreq     int64    `yaml:"min_doc_freq"`
	MaxDocFreqPct  float64  `yaml:"max_doc_freq_pct"`
	MinWordLen     int      `yaml:"min_word_len"`
}

// Analysis configures tokenization.
type Analysis struct {
	StoplistPath string `yaml:"stoplist_path"`
	Stem         bool   `yaml:"stem"`
	StripHTML    bool   `yaml:"strip_html"`
}

// Elasticsearch locates the cluster for the elasticsearch backend.
type Elasticsearch struct {
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Index     string   `yaml:"index"`
}

// HTTP configures the serve command.
type HTTP struct {
	Addr            string `yaml:"addr"`
	RequestTimeoutS int    `yaml:"request_timeout_sec"`
}

// Logging selects the logger flavor.
type Logging struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// Load reads a YAML configuration file. ${VAR} and ${VAR:-default} are
// replaced from the environment before parsing. An empty path returns
// Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Index.Backend == "" {
		c.Index.Backend = BackendSQLite
	}
	if c.Index.BatchSize <= 0 {
		c.Index.BatchSize = 100000
	}
	if c.Index.RAMBufferSizeMB <= 0 {
		c.Index.RAMBufferSizeMB = 256
	}
	if c.Index.CommitBackoffMS <= 0 {
		c.Index.CommitBackoffMS = 500
	}

	d := mlt.DefaultParams()
	if c.Query.TopK <= 0 {
		c.Query.TopK = 100
	}
	if c.Query.ScoreThreshold == nil {
		t := 0.07
		c.Query.ScoreThreshold = &t
	}
	if c.Query.MaxQueryTerms <= 0 {
		c.Query.MaxQueryTerms = d.MaxQueryTerms
	}
	if c.Query.MinTermFreq <= 0 {
		c.Query.MinTermFreq = d.MinTermFreq
	}
	if c.Query.MinDocFreq <= 0 {
		c.Query.MinDocFreq = d.MinDocFreq
	}

	if c.Elasticsearch.Index == "" {
		c.Elasticsearch.Index = "questions"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RequestTimeoutS <= 0 {
		c.HTTP.RequestTimeoutS = 30
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "local"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Index.Backend {
	case BackendSQLite:
	case BackendElasticsearch:
		if len(c.Elasticsearch.Addresses) == 0 {
			return fmt.Errorf("elasticsearch.addresses is required for the elasticsearch backend: %w", internalerr.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("index.backend must be sqlite or elasticsearch, got %q: %w", c.Index.Backend, internalerr.ErrInvalidConfig)
	}
	if t := c.Threshold(); t < 0 || t > 1 {
		return fmt.Errorf("query.score_threshold must be within [0, 1], got %v: %w", t, internalerr.ErrInvalidConfig)
	}
	if err := c.IndexerConfig().Validate(); err != nil {
		return err
	}
	return c.MLTParams().Validate()
}

// Threshold returns the configured score threshold.
func (c *Config) Threshold() float64 {
	if c.Query.ScoreThreshold == nil {
		return 0.07
	}
	return *c.Query.ScoreThreshold
}

// IndexerConfig returns the indexing settings.
func (c *Config) IndexerConfig() indexer.Config {
	return indexer.Config{
		BatchSize:      c.Index.BatchSize,
		CorpusSizeHint: c.Index.CorpusSizeHint,
		CommitRetries:  c.Index.CommitRetries,
		CommitBackoff:  time.Duration(c.Index.CommitBackoffMS) * time.Millisecond,
	}
}

// MLTParams returns the term selection settings.
func (c *Config) MLTParams() mlt.Params {
	return mlt.Params{
		MaxQueryTerms: c.Query.MaxQueryTerms,
		MinTermFreq:   c.Query.MinTermFreq,
		MinDocFreq:    c.Query.MinDocFreq,
		MaxDocFreqPct: c.Query.MaxDocFreqPct,
		MinWordLen:    c.Query.MinWordLen,
	}
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default}.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, def, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = def
		}
		return []byte(val)
	})
}
