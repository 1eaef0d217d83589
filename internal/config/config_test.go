package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"APP_PORT", "APP_ENV", "OFFLINE_MODE", "MAX_REGIONS", "CACHE_TTL", "MIN_DETECTION_SCORE"} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.Env != "development" {
		t.Errorf("got port %q env %q", cfg.Port, cfg.Env)
	}
	if cfg.Offline {
		t.Error("offline should default to false")
	}
	if cfg.MaxRegions != 5 || cfg.MinDetectionScore != 0.3 {
		t.Errorf("got max regions %d, min score %v", cfg.MaxRegions, cfg.MinDetectionScore)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("APP_PORT", "9000")
	t.Setenv("APP_ENV", "test")
	t.Setenv("OFFLINE_MODE", "true")
	t.Setenv("MAX_REGIONS", "3")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("REDIS_ADDRESS", "localhost:6379")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Port != "9000" || cfg.Env != "test" || !cfg.Offline || cfg.MaxRegions != 3 {
		t.Errorf("got %+v", cfg)
	}
	if cfg.CacheTTL != 30*time.Second || cfg.RedisAddress != "localhost:6379" {
		t.Errorf("got ttl %v redis %q", cfg.CacheTTL, cfg.RedisAddress)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"non numeric port", "APP_PORT", "http"},
		{"unknown env", "APP_ENV", "staging"},
		{"score above one", "MIN_DETECTION_SCORE", "1.5"},
		{"zero regions", "MAX_REGIONS", "0"},
		{"negative ceiling", "MAX_WEIGHT_LB", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := FromEnv(); err == nil {
				t.Errorf("%s=%s accepted", tt.key, tt.value)
			}
		})
	}
}
