package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port string `validate:"required,numeric"`
	Env  string `validate:"required,oneof=development production test"`

	ModelsDir      string
	RuntimeLibrary string
	Offline        bool

	MinDetectionScore float64 `validate:"gte=0,lte=1"`
	MaxRegions        int     `validate:"gte=1,lte=50"`
	MaxWeightLb       float64 `validate:"gt=0"`

	RedisAddress  string
	RedisPassword string
	RedisDB       int           `validate:"gte=0"`
	CacheTTL      time.Duration `validate:"gte=0"`

	RateLimit   float64 `validate:"gt=0"`
	RateBurst   int     `validate:"gte=1"`
	BodyLimitMB int     `validate:"gte=1,lte=100"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		Port: getEnv("APP_PORT", "8080"),
		Env:  getEnv("APP_ENV", "development"),

		ModelsDir:      getEnv("MODELS_DIR", "./models"),
		RuntimeLibrary: getEnv("ONNXRUNTIME_LIB", ""),
		Offline:        getBool("OFFLINE_MODE", false),

		MinDetectionScore: getFloat("MIN_DETECTION_SCORE", 0.3),
		MaxRegions:        getInt("MAX_REGIONS", 5),
		MaxWeightLb:       getFloat("MAX_WEIGHT_LB", 500),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		CacheTTL:      getDuration("CACHE_TTL", 10*time.Minute),

		RateLimit:   getFloat("RATE_LIMIT", 10),
		RateBurst:   getInt("RATE_BURST", 20),
		BodyLimitMB: getInt("BODY_LIMIT_MB", 10),
	}

	if err := NewValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func NewValidator() *validator.Validate {
	return validator.New()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}
