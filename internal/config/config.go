package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port          string
	DatabaseURL   string
	MigrationsDir string

	MongoURI      string
	MongoDatabase string

	GeminiAPIKey string
	GeminiModel  string

	AgentRoster       string
	InferenceTimeout  time.Duration
	InferenceAttempts int
	DispatchStagger   time.Duration
	SessionRetention  time.Duration

	TelegramToken string
	DoctorChatID  int64
}

// Load reads a .env file when present, then the environment.
func Load(logger *log.Logger) (Config, error) {
	if err := godotenv.Load(); err != nil && logger != nil {
		logger.Println("no .env file found, using environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:          getenv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		MigrationsDir: getenv("MIGRATIONS_DIR", "file://migrations"),
		MongoURI:      os.Getenv("MONGODB_URI"),
		MongoDatabase: getenv("MONGODB_DATABASE", "consilium"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getenv("GEMINI_MODEL", "gemini-2.5-flash"),
		AgentRoster:   os.Getenv("AGENT_ROSTER"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	var err error
	if cfg.InferenceTimeout, err = duration("INFERENCE_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.DispatchStagger, err = duration("DISPATCH_STAGGER", 250*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.SessionRetention, err = duration("SESSION_RETENTION", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.InferenceAttempts, err = integer("INFERENCE_ATTEMPTS", 2); err != nil {
		return Config{}, err
	}
	if cfg.InferenceAttempts < 1 {
		return Config{}, fmt.Errorf("config: INFERENCE_ATTEMPTS must be at least 1")
	}
	if v := os.Getenv("DOCTOR_CHAT_ID"); v != "" {
		if cfg.DoctorChatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Config{}, fmt.Errorf("config: DOCTOR_CHAT_ID: %w", err)
		}
	}
	return cfg, nil
}

// ReportsEnabled reports whether Telegram delivery is configured.
func (c Config) ReportsEnabled() bool {
	return c.TelegramToken != "" && c.DoctorChatID != 0
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func integer(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
