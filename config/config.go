package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// UpstreamBudget is one structured-data upstream's rate discipline
// (spec §4.2: "fixed token-bucket or minimum-inter-call delay").
type UpstreamBudget struct {
	PerMinute int           `json:"per_minute"`
	PerDay    int           `json:"per_day"`
	Timeout   time.Duration `json:"timeout"`
}

// CacheTTLs holds the per-research-type Research Cache lifetimes
// (spec §4.5 defaults).
type CacheTTLs struct {
	Complete  time.Duration `json:"complete"`
	Technical time.Duration `json:"technical"`
	Financial time.Duration `json:"financial"`
	Web       time.Duration `json:"web"`
}

// ModelConfig is one configured trading agent (spec §3 "Model (Agent)
// Descriptor").
type ModelConfig struct {
	ID              string  `json:"id"`
	DisplayName     string  `json:"display_name"`
	APIIdentifier   string  `json:"api_identifier"`
	Vendor          string  `json:"vendor"`
	ModelName       string  `json:"model_name"`
	ResearchModel   string  `json:"research_model"`
	StartingBalance float64 `json:"starting_balance"`
}

// Config is the full, hot-reloadable configuration surface enumerated
// in spec §6.
type Config struct {
	ProjectDir   string `json:"project_dir"`
	ResultsDir   string `json:"results_dir"`
	DataDir      string `json:"data_dir"`
	DataCacheDir string `json:"data_cache_dir"`

	EinoDebugEnabled bool `json:"eino_debug_enabled"`
	EinoDebugPort    int  `json:"eino_debug_port"`
	CacheEnabled     bool `json:"cache_enabled"`

	DeepSeekAPIKey string `json:"deepseek_api_key"`
	OpenAIAPIKey   string `json:"openai_api_key"`

	// Trading Engine
	StartingCapital float64       `json:"starting_capital"`
	TradingFee      float64       `json:"trading_fee"`
	MarketOpenHour  int           `json:"market_open_hour"`
	MarketCloseHour int           `json:"market_close_hour"`
	MarketCloseMin  int           `json:"market_close_minute"`
	Timezone        string        `json:"timezone"`

	// News & Momentum Monitor
	ResearchStockLimit    int           `json:"research_stock_limit"`
	MomentumLookbackHours int           `json:"momentum_lookback_hours"`
	MinNewsThreshold      int           `json:"min_news_threshold"`
	RSSCacheTTL           time.Duration `json:"rss_cache_ttl"`

	// Research Cache
	CacheTTLs CacheTTLs `json:"cache_ttls"`

	// Structured Data Clients
	FinnhubBudget    UpstreamBudget `json:"finnhub_budget"`
	AlphaVantageBudget UpstreamBudget `json:"alpha_vantage_budget"`

	// Active agents, in configured order (spec §6 ACTIVE_MODELS)
	ActiveModels []ModelConfig `json:"active_models"`

	// Open Question decision: whether a degraded-but-cached Briefing
	// past TTL may be served as a "stale" fallback when a symbol's
	// pipeline exceeds the tick budget. Default false (never serve
	// stale data silently).
	AllowStaleFallback bool `json:"allow_stale_fallback"`
}

func Initialize(path string) error {
	opts := []ManagerOption{}
	if strings.TrimSpace(path) != "" {
		if strings.EqualFold(filepath.Ext(path), ".json") {
			opts = append(opts, WithConfigPath(path))
		} else {
			opts = append(opts, WithConfigDir(path))
		}
	}
	mgr, err := NewManager(opts...)
	if err != nil {
		return err
	}
	SetDefaultManager(mgr)
	return nil
}

func Update(jsonStr string) error {
	mgr := DefaultManager()
	if mgr == nil {
		return errors.New("config manager not initialized")
	}
	return mgr.UpdateFromJSON(jsonStr)
}

func Get() Config {
	mgr := DefaultManager()
	if mgr == nil {
		return Config{}
	}
	return mgr.Get()
}

func LoadConfigFromEnv() *Config {
	cfg := &Config{}
	_ = godotenv.Load()
	cfg.loadFromEnv()
	return cfg
}

func LoadConfigFromJsonFile(path string) *Config {
	cfg := &Config{}
	if err := loadConfigFromFile(path, cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadConfigFromJsonContent(content string) *Config {
	cfg := &Config{}
	if err := json.Unmarshal([]byte(content), cfg); err != nil {
		panic(err)
	}
	return cfg
}

func DefaultConfig() *Config {
	return DefaultConfigWithRoot("")
}

func DefaultConfigWithRoot(root string) *Config {
	baseDir := root
	if baseDir == "" {
		currentDir, _ := os.Getwd()
		baseDir = currentDir
	}
	cfg := &Config{
		ProjectDir:   baseDir,
		ResultsDir:   filepath.Join(baseDir, "results"),
		DataDir:      filepath.Join(baseDir, "data"),
		DataCacheDir: filepath.Join(baseDir, "data", "cache"),

		EinoDebugEnabled: false,
		EinoDebugPort:    52538,
		CacheEnabled:     true,

		StartingCapital: 1000,
		TradingFee:      5,
		MarketOpenHour:  9,
		MarketCloseHour: 17,
		MarketCloseMin:  30,
		Timezone:        "Europe/Berlin",

		ResearchStockLimit:    10,
		MomentumLookbackHours: 24,
		MinNewsThreshold:      3,
		RSSCacheTTL:           time.Hour,

		CacheTTLs: CacheTTLs{
			Complete:  2 * time.Hour,
			Technical: time.Hour,
			Financial: 4 * time.Hour,
			Web:       2 * time.Hour,
		},

		FinnhubBudget:      UpstreamBudget{PerMinute: 5, PerDay: 25, Timeout: 30 * time.Second},
		AlphaVantageBudget: UpstreamBudget{PerMinute: 60, PerDay: 0, Timeout: 30 * time.Second},

		AllowStaleFallback: false,
	}

	_ = godotenv.Load()
	cfg.loadFromEnv()

	return cfg
}

func (c *Config) loadFromEnv() {
	boolEnv := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			if parsed, err := strconv.ParseBool(val); err == nil {
				*dst = parsed
			}
		}
	}
	intEnv := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if parsed, err := strconv.Atoi(val); err == nil {
				*dst = parsed
			}
		}
	}
	floatEnv := func(key string, dst *float64) {
		if val := os.Getenv(key); val != "" {
			if parsed, err := strconv.ParseFloat(val, 64); err == nil {
				*dst = parsed
			}
		}
	}
	stringEnv := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}

	boolEnv("CACHE_ENABLED", &c.CacheEnabled)
	boolEnv("EINO_DEBUG_ENABLED", &c.EinoDebugEnabled)
	intEnv("EINO_DEBUG_PORT", &c.EinoDebugPort)

	stringEnv("DEEPSEEK_API_KEY", &c.DeepSeekAPIKey)
	stringEnv("OPENAI_API_KEY", &c.OpenAIAPIKey)

	floatEnv("STARTING_CAPITAL", &c.StartingCapital)
	floatEnv("TRADING_FEE", &c.TradingFee)
	intEnv("MARKET_OPEN_HOUR", &c.MarketOpenHour)
	intEnv("MARKET_CLOSE_HOUR", &c.MarketCloseHour)
	intEnv("MARKET_CLOSE_MINUTE", &c.MarketCloseMin)
	stringEnv("TIMEZONE", &c.Timezone)

	intEnv("RESEARCH_STOCK_LIMIT", &c.ResearchStockLimit)
	intEnv("MOMENTUM_LOOKBACK_HOURS", &c.MomentumLookbackHours)
	intEnv("MIN_NEWS_THRESHOLD", &c.MinNewsThreshold)

	boolEnv("ALLOW_STALE_FALLBACK", &c.AllowStaleFallback)
}

func (c *Config) Validate() error {
	if c.ProjectDir == "" {
		return errors.New("project_dir cannot be empty")
	}
	if c.ResultsDir == "" {
		return errors.New("results_dir cannot be empty")
	}
	if c.DataDir == "" {
		return errors.New("data_dir cannot be empty")
	}
	if c.DataCacheDir == "" {
		return errors.New("data_cache_dir cannot be empty")
	}
	if c.EinoDebugPort < 0 {
		return errors.New("eino_debug_port cannot be negative")
	}
	if c.StartingCapital <= 0 {
		return errors.New("starting_capital must be positive")
	}
	if c.TradingFee < 0 {
		return errors.New("trading_fee cannot be negative")
	}
	return nil
}

func loadConfigFromFile(filePath string, cfg *Config) error {
	if _, err := os.Stat(filePath); err != nil {
		return err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return err
	}

	return nil
}
