package config

import (
	"log"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required"`
	OwnerUserID      int64  `env:"OWNER_USER_ID,required"`

	// Access policy
	PublicUsage bool    `env:"PUBLIC_USAGE" envDefault:"false"`
	AllowedBots []int64 `env:"ALLOWED_BOTS" envSeparator:":"`

	// LLM settings
	OpenAIAPIKey    string `env:"OPENAI_API_KEY,required"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL"`
	OpenAIModel     string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	MaxOutputTokens int    `env:"MAX_OUTPUT_TOKENS" envDefault:"0"`

	// Request policy
	RequestTimeoutSeconds int `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"60"`
	RequestTries          int `env:"REQUEST_TRIES" envDefault:"3"`

	// Input limits
	MaxInputTokens int      `env:"MAX_INPUT_TOKENS" envDefault:"512"`
	IgnorePrefixes []string `env:"IGNORE_PREFIXES" envSeparator:":"`

	// Billing display
	UsdPerToken float64 `env:"USD_PER_TOKEN" envDefault:"0.000002"`

	// Storage
	DatabasePath    string `env:"DATABASE_PATH" envDefault:"data/main.db"`
	UsersFilePath   string `env:"USERS_FILE_PATH" envDefault:"data/users.json"`
	StatsFilePath   string `env:"STATS_FILE_PATH" envDefault:"data/stats.json"`
	PendingFilePath string `env:"PENDING_FILE_PATH" envDefault:"data/pending.json"`
	PersonaFilePath string `env:"PERSONA_FILE_PATH" envDefault:"prompts/persona.json"`
	HelpFilePath    string `env:"HELP_FILE_PATH" envDefault:"prompts/help.md"`

	// Retention, in days; zero or negative keeps records forever
	DeleteMessageDays int `env:"DELETE_MESSAGE_DAYS" envDefault:"0"`

	// Delivery
	ShowRegenerateButton bool   `env:"SHOW_REGENERATE_BUTTON" envDefault:"true"`
	ViewerBaseURL        string `env:"VIEWER_BASE_URL"`
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}
