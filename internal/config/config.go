package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"forum-alpha/internal/domain"
)

type Config struct {
	KalshiAPIKey    string
	KalshiAPIBase   string
	RedditUserAgent string

	OpenAIAPIKey string
	OpenAIModel  string

	DBPath string

	DryRun               bool
	MinDelta             float64
	ConfidenceThreshold  float64
	PollIntervalSecs     int
	MaxContractsPerTrade int

	MarketFetchLimit     int
	MaxItemsPerCommunity int
	MaxCorpusChars       int

	RedisURL         string
	TelegramBotToken string
	TelegramChatID   int64

	HTTPAddr string
}

func Load() *Config {
	cfg := &Config{
		KalshiAPIKey:     os.Getenv("KALSHI_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		RedisURL:         os.Getenv("REDIS_URL"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	cfg.KalshiAPIBase = strings.TrimSpace(os.Getenv("KALSHI_API_BASE"))
	if cfg.KalshiAPIBase == "" {
		cfg.KalshiAPIBase = "https://api.elections.kalshi.com/trade-api/v2"
	}

	cfg.RedditUserAgent = strings.TrimSpace(os.Getenv("REDDIT_USER_AGENT"))
	if cfg.RedditUserAgent == "" {
		cfg.RedditUserAgent = "forum-alpha/1.0"
	}

	cfg.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}

	cfg.DBPath = strings.TrimSpace(os.Getenv("DB_PATH"))
	if cfg.DBPath == "" {
		cfg.DBPath = "forum_alpha.sqlite"
	}

	// Dry run defaults to true: analysis is always logged, simulated
	// positions only when explicitly switched off.
	cfg.DryRun = true
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("DRY_RUN"))); v != "" {
		cfg.DryRun = v == "1" || v == "true" || v == "yes"
	}

	cfg.MinDelta = 0.10
	if v := strings.TrimSpace(os.Getenv("MIN_DELTA")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 && n <= 1 {
			cfg.MinDelta = n
		}
	}

	cfg.ConfidenceThreshold = 0.75
	if v := strings.TrimSpace(os.Getenv("CONFIDENCE_THRESHOLD")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 && n <= 1 {
			cfg.ConfidenceThreshold = n
		}
	}

	cfg.PollIntervalSecs = 120
	if v := strings.TrimSpace(os.Getenv("POLL_INTERVAL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollIntervalSecs = n
		}
	}

	cfg.MaxContractsPerTrade = 100
	if v := strings.TrimSpace(os.Getenv("MAX_CONTRACTS_PER_TRADE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxContractsPerTrade = n
		}
	}

	cfg.MarketFetchLimit = 100
	if v := strings.TrimSpace(os.Getenv("MARKET_FETCH_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MarketFetchLimit = n
		}
	}

	cfg.MaxItemsPerCommunity = 25
	if v := strings.TrimSpace(os.Getenv("MAX_ITEMS_PER_COMMUNITY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxItemsPerCommunity = n
		}
	}

	cfg.MaxCorpusChars = 24000
	if v := strings.TrimSpace(os.Getenv("MAX_CORPUS_CHARS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxCorpusChars = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = n
		}
	}

	cfg.HTTPAddr = strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, market snapshot cache disabled")
	}
	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set, notifier disabled")
	}

	return cfg
}

// Validate checks the settings the pipeline cannot run without. Called once
// at startup; a non-nil error means exit before the loop starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.KalshiAPIKey) == "" {
		return &domain.ConfigurationError{Key: "KALSHI_API_KEY", Reason: "required"}
	}
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return &domain.ConfigurationError{Key: "OPENAI_API_KEY", Reason: "required"}
	}
	if c.MinDelta < 0 || c.MinDelta > 1 {
		return &domain.ConfigurationError{Key: "MIN_DELTA", Reason: "must be within [0,1]"}
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return &domain.ConfigurationError{Key: "CONFIDENCE_THRESHOLD", Reason: "must be within [0,1]"}
	}
	return nil
}
