package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	GeminiKey   string
	GeminiModel string

	ClassifierTimeout time.Duration
	HookDuration      time.Duration

	ReportsDir string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set - coaching analysis will not work")
	}
	geminiModel := os.Getenv("GEMINI_MODEL_ID")
	if geminiModel == "" {
		geminiModel = "gemini-2.5-flash-lite"
	}

	reportsDir := os.Getenv("REPORTS_DIR")
	if reportsDir == "" {
		reportsDir = "reports"
	}

	supabaseBucket := os.Getenv("SUPABASE_BUCKET")
	if supabaseBucket == "" {
		supabaseBucket = "session-reports"
	}

	log.Printf("config: HTTP_ADDRESS=%s model=%s", addr, geminiModel)
	return Config{
		HTTPAddress:        addr,
		GeminiKey:          geminiKey,
		GeminiModel:        geminiModel,
		ClassifierTimeout:  secondsEnv("CLASSIFIER_TIMEOUT_SECONDS", 12),
		HookDuration:       secondsEnv("HOOK_DURATION_SECONDS", 3),
		ReportsDir:         reportsDir,
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     supabaseBucket,
	}
}

func secondsEnv(key string, def int) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(def) * time.Second
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		log.Printf("Warning: invalid %s=%q, using %ds", key, raw, def)
		return time.Duration(def) * time.Second
	}
	return time.Duration(secs) * time.Second
}
