package model

import "time"

// Config is the full runtime configuration, loaded by viper from
// ~/.verity/config.yaml, VERITY_* environment variables and flags.
type Config struct {
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	Crawl        CrawlConfig        `yaml:"crawl" mapstructure:"crawl"`
	Search       SearchConfig       `yaml:"search" mapstructure:"search"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding" mapstructure:"embedding"`
	Curation     CurationConfig     `yaml:"curation" mapstructure:"curation"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Debate       DebateConfig       `yaml:"debate" mapstructure:"debate"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
}

// HTTPConfig controls the lightweight page fetcher
type HTTPConfig struct {
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxBytes       int64         `yaml:"max_bytes" mapstructure:"max_bytes"`
	RespectRobots  bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	MinDomainDelay time.Duration `yaml:"min_domain_delay" mapstructure:"min_domain_delay"`
	MaxJitter      time.Duration `yaml:"max_jitter" mapstructure:"max_jitter"`
	HTTPProxy      string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy     string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy        string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// CrawlConfig controls the crawl fan-out and the browser fallback
type CrawlConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	BrowserFallback bool          `yaml:"browser_fallback" mapstructure:"browser_fallback"`
	BrowserTimeout  time.Duration `yaml:"browser_timeout" mapstructure:"browser_timeout"`
	CacheEnabled    bool          `yaml:"cache_enabled" mapstructure:"cache_enabled"`
	CacheDir        string        `yaml:"cache_dir" mapstructure:"cache_dir"`
	CacheTTL        time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// SearchConfig selects and orders search providers
type SearchConfig struct {
	Providers       []string `yaml:"providers" mapstructure:"providers"`
	ResultsPerQuery int      `yaml:"results_per_query" mapstructure:"results_per_query"`
	TavilyAPIKey    string   `yaml:"tavily_api_key,omitempty" mapstructure:"tavily_api_key"`
	ContactEmail    string   `yaml:"contact_email,omitempty" mapstructure:"contact_email"` // OpenAlex polite pool
}

// LLMConfig selects the text-completion provider
type LLMConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // openai, openrouter, anthropic, ollama
	Model     string `yaml:"model" mapstructure:"model"`
	APIKey    string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // hash, openai, ollama
	Model     string `yaml:"model,omitempty" mapstructure:"model"`
	Dimension int    `yaml:"dimension" mapstructure:"dimension"`
}

// CurationConfig holds the curation thresholds and domain lists
type CurationConfig struct {
	MinCredibility    float64  `yaml:"min_credibility" mapstructure:"min_credibility"`
	MinRelevance      float64  `yaml:"min_relevance" mapstructure:"min_relevance"`
	MaxSources        int      `yaml:"max_sources" mapstructure:"max_sources"`
	TrustedDomains    []string `yaml:"trusted_domains" mapstructure:"trusted_domains"`
	LowQualityDomains []string `yaml:"low_quality_domains" mapstructure:"low_quality_domains"`
}

// VerificationConfig toggles the entailment tier
type VerificationConfig struct {
	UseNLI bool `yaml:"use_nli" mapstructure:"use_nli"`
}

// DebateConfig tunes the debate protocol
type DebateConfig struct {
	ConsensusThreshold float64 `yaml:"consensus_threshold" mapstructure:"consensus_threshold"`
}

// StoreConfig locates the session database
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// ServerConfig holds the HTTP/WebSocket listen address
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json, console
}

// DefaultTrustedDomains are the domains that earn elevated authority
var DefaultTrustedDomains = []string{
	".edu", ".ac.uk", ".ac.jp", ".ac.au",
	".gov", ".gov.uk", ".gov.au", ".gc.ca",
	"wikipedia.org", "wikidata.org",
	"reuters.com", "apnews.com", "bloomberg.com", "wsj.com", "nytimes.com",
	"washingtonpost.com", "theguardian.com", "bbc.com", "bbc.co.uk", "npr.org", "economist.com",
	"nature.com", "science.org", "cell.com", "thelancet.com", "nejm.org", "jamanetwork.com",
	"pubmed.ncbi.nlm.nih.gov", "arxiv.org",
	"github.com", "stackoverflow.com",
}

// DefaultLowQualityDomains cap domain authority at the lowest tier
var DefaultLowQualityDomains = []string{
	"blogspot.", "wordpress.com", "medium.com", "forum", "reddit.com/r/", "quora.com",
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Timeout:        30 * time.Second,
			MaxBytes:       5 << 20,
			RespectRobots:  false,
			MinDomainDelay: time.Second,
			MaxJitter:      2 * time.Second,
		},
		Crawl: CrawlConfig{
			MaxConcurrent:   10,
			BrowserFallback: true,
			BrowserTimeout:  45 * time.Second,
			CacheEnabled:    true,
			CacheDir:        "~/.verity/cache",
			CacheTTL:        24 * time.Hour,
		},
		Search: SearchConfig{
			Providers:       []string{"tavily", "duckduckgo"},
			ResultsPerQuery: 15,
		},
		LLM: LLMConfig{
			Provider:  "openrouter",
			Model:     "openai/gpt-4o-mini",
			Timeout:   120,
			MaxTokens: 4096,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Dimension: 384,
		},
		Curation: CurationConfig{
			MinCredibility:    0.3,
			MinRelevance:      0.5,
			MaxSources:        50,
			TrustedDomains:    append([]string(nil), DefaultTrustedDomains...),
			LowQualityDomains: append([]string(nil), DefaultLowQualityDomains...),
		},
		Verification: VerificationConfig{
			UseNLI: false,
		},
		Debate: DebateConfig{
			ConsensusThreshold: 0.7,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "~/.verity/research.db",
		},
		Server: ServerConfig{
			Addr: ":8000",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
