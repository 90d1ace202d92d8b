package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds everything the server and CLI need at startup.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8100"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Assistant service
	OpenAIAPIKey  string `env:"OPENAI_API_KEY,required,notEmpty"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo-16k"`

	AssistantName         string `env:"ASSISTANT_NAME" envDefault:"News Summarizer"`
	AssistantInstructions string `env:"ASSISTANT_INSTRUCTIONS" envDefault:"You are a personal article summarizer Assistant who knows how to take a list of article's titles and descriptions and then write a short summary of all the news articles"`
	RunInstructions       string `env:"RUN_INSTRUCTIONS" envDefault:"Summarize the news"`

	PollInterval time.Duration `env:"RUN_POLL_INTERVAL" envDefault:"5s"`
	RunTimeout   time.Duration `env:"RUN_TIMEOUT" envDefault:"3m"`

	// News search
	NewsAPIKey     string        `env:"NEWS_API_KEY,required,notEmpty"`
	NewsAPIBaseURL string        `env:"NEWS_API_BASE_URL" envDefault:"https://newsapi.org"`
	NewsPageSize   int           `env:"NEWS_PAGE_SIZE" envDefault:"5"`
	NewsLookback   time.Duration `env:"NEWS_LOOKBACK" envDefault:"672h"`
	NewsTimeout    time.Duration `env:"NEWS_HTTP_TIMEOUT" envDefault:"15s"`
	NewsRetryCount int           `env:"NEWS_RETRY_COUNT" envDefault:"2"`

	// Session state
	DatabaseDSN string        `env:"DATABASE_DSN" envDefault:"file:newsdigest?mode=memory&cache=shared"`
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"12h"`
}

// Load reads an optional .env file and parses the environment. A missing
// secret is returned as an error; callers treat it as fatal.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.NewsPageSize <= 0 || c.NewsPageSize > 5 {
		return fmt.Errorf("NEWS_PAGE_SIZE must be between 1 and 5, got %d", c.NewsPageSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("RUN_POLL_INTERVAL must be positive")
	}
	if c.RunTimeout < c.PollInterval {
		return fmt.Errorf("RUN_TIMEOUT (%s) must not be shorter than RUN_POLL_INTERVAL (%s)", c.RunTimeout, c.PollInterval)
	}
	if c.NewsRetryCount < 0 {
		return fmt.Errorf("NEWS_RETRY_COUNT must not be negative")
	}
	return nil
}
