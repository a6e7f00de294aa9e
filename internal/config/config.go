package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// MaxWatchInterval はセッション監視のポーリング間隔の上限。
// 残り時間の表示が1分以上古くならないようにする。
const MaxWatchInterval = 60 * time.Second

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Document store (MongoDB)
	MongoURI      string
	MongoDatabase string

	// Ephemeral store (Redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Relationship store (Neo4j)
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Session
	SessionTTL       time.Duration
	WatchInterval    time.Duration
	WatchMaxFailures int

	// Appointment / Habit
	ReminderTTL time.Duration
	Location    *time.Location // 予約日時の解釈と記録日の境界に使うタイムゾーン

	// Store
	StoreTimeout time.Duration

	// Audit
	AuditInterval time.Duration

	// Rate Limit
	RateLimitGeneral int

	// CORS
	CORSAllowedOrigin string

	// Notify
	NotifyWebhookURL string

	// Logging
	LogLevel string

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.MongoURI = os.Getenv("MONGO_URI")
	if cfg.MongoURI == "" {
		missing = append(missing, "MONGO_URI")
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}

	cfg.Neo4jURI = os.Getenv("NEO4J_URI")
	if cfg.Neo4jURI == "" {
		missing = append(missing, "NEO4J_URI")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.MongoDatabase = getEnvString("MONGO_DATABASE", "vidasana")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.Neo4jUser = getEnvString("NEO4J_USER", "neo4j")
	cfg.Neo4jPassword = getEnvString("NEO4J_PASSWORD", "")
	cfg.Neo4jDatabase = getEnvString("NEO4J_DATABASE", "neo4j")
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", time.Hour)
	cfg.ReminderTTL = getEnvDuration("REMINDER_TTL", 10*time.Minute)
	cfg.Location = getEnvLocation("TIMEZONE", time.UTC)
	cfg.WatchInterval = getEnvDuration("WATCH_INTERVAL", 30*time.Second)
	cfg.WatchMaxFailures = getEnvInt("WATCH_MAX_FAILURES", 3)
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.AuditInterval = getEnvDuration("AUDIT_INTERVAL", time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")
	cfg.NotifyWebhookURL = getEnvString("NOTIFY_WEBHOOK_URL", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if cfg.WatchInterval <= 0 || cfg.WatchInterval > MaxWatchInterval {
		cfg.WatchInterval = MaxWatchInterval
	}
	if cfg.WatchMaxFailures < 1 {
		cfg.WatchMaxFailures = 1
	}
	if cfg.AuditInterval <= 0 {
		cfg.AuditInterval = time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvLocation(key string, defaultVal *time.Location) *time.Location {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		return defaultVal
	}
	return loc
}
