package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Infra holds infrastructure endpoints loaded from environment variables.
type Infra struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	JournalPath   string
	MetricsAddr   string
	GatewayAddr   string
	FeedURL       string

	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
}

// LoadInfra reads a .env file when present, then the environment, with
// sensible defaults.
func LoadInfra() *Infra {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env not loaded: %v", err)
	}
	return &Infra{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/journal.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),
		FeedURL:       getEnv("FEED_URL", "ws://localhost:9001/candles"),

		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
