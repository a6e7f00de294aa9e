package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("NEO4J_URI", "neo4j://localhost:7687")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.MongoURI != "mongodb://localhost:27017" {
		t.Errorf("MongoURI = %q, want %q", cfg.MongoURI, "mongodb://localhost:27017")
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q, want %q", cfg.RedisAddr, "localhost:6379")
	}
	if cfg.Neo4jURI != "neo4j://localhost:7687" {
		t.Errorf("Neo4jURI = %q, want %q", cfg.Neo4jURI, "neo4j://localhost:7687")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Store defaults
	if cfg.MongoDatabase != "vidasana" {
		t.Errorf("MongoDatabase = %q, want %q", cfg.MongoDatabase, "vidasana")
	}
	if cfg.RedisDB != 0 {
		t.Errorf("RedisDB = %d, want 0", cfg.RedisDB)
	}
	if cfg.Neo4jUser != "neo4j" {
		t.Errorf("Neo4jUser = %q, want %q", cfg.Neo4jUser, "neo4j")
	}
	if cfg.Neo4jDatabase != "neo4j" {
		t.Errorf("Neo4jDatabase = %q, want %q", cfg.Neo4jDatabase, "neo4j")
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Errorf("StoreTimeout = %v, want %v", cfg.StoreTimeout, 5*time.Second)
	}

	// Session defaults
	if cfg.SessionTTL != time.Hour {
		t.Errorf("SessionTTL = %v, want %v", cfg.SessionTTL, time.Hour)
	}
	if cfg.WatchInterval != 30*time.Second {
		t.Errorf("WatchInterval = %v, want %v", cfg.WatchInterval, 30*time.Second)
	}
	if cfg.WatchMaxFailures != 3 {
		t.Errorf("WatchMaxFailures = %d, want 3", cfg.WatchMaxFailures)
	}

	// Appointment defaults
	if cfg.ReminderTTL != 10*time.Minute {
		t.Errorf("ReminderTTL = %v, want %v", cfg.ReminderTTL, 10*time.Minute)
	}

	if cfg.AuditInterval != time.Hour {
		t.Errorf("AuditInterval = %v, want %v", cfg.AuditInterval, time.Hour)
	}
	if cfg.RateLimitGeneral != 120 {
		t.Errorf("RateLimitGeneral = %d, want %d", cfg.RateLimitGeneral, 120)
	}
	if cfg.NotifyWebhookURL != "" {
		t.Errorf("NotifyWebhookURL = %q, want empty", cfg.NotifyWebhookURL)
	}
	if cfg.CORSAllowedOrigin != "" {
		t.Errorf("CORSAllowedOrigin = %q, want empty", cfg.CORSAllowedOrigin)
	}
	if cfg.Location != time.UTC {
		t.Errorf("Location = %v, want UTC", cfg.Location)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnvVars(t)

	t.Setenv("MONGO_DATABASE", "vidasana_test")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("REMINDER_TTL", "5m")
	t.Setenv("WATCH_INTERVAL", "10s")
	t.Setenv("WATCH_MAX_FAILURES", "5")
	t.Setenv("STORE_TIMEOUT", "2s")
	t.Setenv("AUDIT_INTERVAL", "15m")
	t.Setenv("RATE_LIMIT_GENERAL", "60")
	t.Setenv("NOTIFY_WEBHOOK_URL", "https://hooks.example.com/notify")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("CORS_ALLOWED_ORIGIN", "https://app.example.com")
	t.Setenv("TIMEZONE", "America/Argentina/Buenos_Aires")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.MongoDatabase != "vidasana_test" {
		t.Errorf("MongoDatabase = %q, want %q", cfg.MongoDatabase, "vidasana_test")
	}
	if cfg.RedisDB != 2 {
		t.Errorf("RedisDB = %d, want 2", cfg.RedisDB)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %v, want %v", cfg.SessionTTL, 30*time.Minute)
	}
	if cfg.ReminderTTL != 5*time.Minute {
		t.Errorf("ReminderTTL = %v, want %v", cfg.ReminderTTL, 5*time.Minute)
	}
	if cfg.WatchInterval != 10*time.Second {
		t.Errorf("WatchInterval = %v, want %v", cfg.WatchInterval, 10*time.Second)
	}
	if cfg.WatchMaxFailures != 5 {
		t.Errorf("WatchMaxFailures = %d, want 5", cfg.WatchMaxFailures)
	}
	if cfg.StoreTimeout != 2*time.Second {
		t.Errorf("StoreTimeout = %v, want %v", cfg.StoreTimeout, 2*time.Second)
	}
	if cfg.AuditInterval != 15*time.Minute {
		t.Errorf("AuditInterval = %v, want %v", cfg.AuditInterval, 15*time.Minute)
	}
	if cfg.RateLimitGeneral != 60 {
		t.Errorf("RateLimitGeneral = %d, want 60", cfg.RateLimitGeneral)
	}
	if cfg.NotifyWebhookURL != "https://hooks.example.com/notify" {
		t.Errorf("NotifyWebhookURL = %q", cfg.NotifyWebhookURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.ServerPort != "3000" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "3000")
	}
	if cfg.CORSAllowedOrigin != "https://app.example.com" {
		t.Errorf("CORSAllowedOrigin = %q", cfg.CORSAllowedOrigin)
	}
	if cfg.Location.String() != "America/Argentina/Buenos_Aires" {
		t.Errorf("Location = %v, want America/Argentina/Buenos_Aires", cfg.Location)
	}
}

// 解釈できないタイムゾーンはUTCにフォールバックすること
func TestLoad_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("TIMEZONE", "Marte/Olympus")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Location != time.UTC {
		t.Errorf("Location = %v, want UTC", cfg.Location)
	}
}

// 監視間隔は60秒を超えないよう丸められること
func TestLoad_WatchIntervalClampedToMax(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("WATCH_INTERVAL", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.WatchInterval != MaxWatchInterval {
		t.Errorf("WatchInterval = %v, want %v", cfg.WatchInterval, MaxWatchInterval)
	}
}

func TestLoad_WatchMaxFailuresAtLeastOne(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("WATCH_MAX_FAILURES", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.WatchMaxFailures != 1 {
		t.Errorf("WatchMaxFailures = %d, want 1", cfg.WatchMaxFailures)
	}
}

func TestLoad_NonPositiveIntervalsUseDefaults(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("AUDIT_INTERVAL", "0s")
	t.Setenv("STORE_TIMEOUT", "-1s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.AuditInterval != time.Hour {
		t.Errorf("AuditInterval = %v, want %v", cfg.AuditInterval, time.Hour)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Errorf("StoreTimeout = %v, want %v", cfg.StoreTimeout, 5*time.Second)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SESSION_TTL", "one hour")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("SessionTTL = %v, want %v", cfg.SessionTTL, time.Hour)
	}
}

func TestLoad_MissingRequiredVars_ReturnsError(t *testing.T) {
	for _, name := range []string{"MONGO_URI", "REDIS_ADDR", "NEO4J_URI"} {
		t.Run(name, func(t *testing.T) {
			setRequiredEnvVars(t)
			t.Setenv(name, "")

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for missing %s, got nil", name)
			}
			if !strings.Contains(err.Error(), name) {
				t.Errorf("error %q should mention %s", err.Error(), name)
			}
		})
	}
}
