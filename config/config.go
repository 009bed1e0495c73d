package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultSystemInstruction = `You are Calliope, a helpful voice assistant. ` +
	`Answer briefly and conversationally; you are being spoken to out loud.`

// Config holds all application configuration
type Config struct {
	GeminiAPIKey string

	LiveModel string
	TextModel string
	Voice     string

	SystemInstruction   string
	InputTranscription  bool
	OutputTranscription bool

	// UI bridge
	Port           int
	AllowedOrigins []string

	// transcript history
	RedisURL      string
	RedisPassword string
	HistoryTTL    time.Duration
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Voice:               "Zephyr",
		SystemInstruction:   defaultSystemInstruction,
		InputTranscription:  true,
		OutputTranscription: true,
		Port:                8080,
		AllowedOrigins:      []string{"*"},
		RedisURL:            "localhost:6379",
		HistoryTTL:          24 * time.Hour,
	}

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	// Optional: LIVE_MODEL / TEXT_MODEL (empty selects the package defaults)
	config.LiveModel = os.Getenv("LIVE_MODEL")
	config.TextModel = os.Getenv("TEXT_MODEL")

	// Optional: VOICE
	if voice := os.Getenv("VOICE"); voice != "" {
		config.Voice = voice
	}

	// Optional: SYSTEM_INSTRUCTION
	if instruction := os.Getenv("SYSTEM_INSTRUCTION"); instruction != "" {
		config.SystemInstruction = instruction
	}

	// Optional: INPUT_TRANSCRIPTION / OUTPUT_TRANSCRIPTION
	if v := os.Getenv("INPUT_TRANSCRIPTION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid INPUT_TRANSCRIPTION: %w", err)
		}
		config.InputTranscription = b
	}
	if v := os.Getenv("OUTPUT_TRANSCRIPTION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OUTPUT_TRANSCRIPTION: %w", err)
		}
		config.OutputTranscription = b
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: HISTORY_TTL (in hours)
	if ttl := os.Getenv("HISTORY_TTL"); ttl != "" {
		h, err := strconv.Atoi(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid HISTORY_TTL: %w", err)
		}
		config.HistoryTTL = time.Duration(h) * time.Hour
	}

	return config, nil
}
