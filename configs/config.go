package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

type Scheduler struct {
	Backend      string // local or asynq
	Concurrency  int
	MisfireGrace time.Duration
	ExecTimeout  time.Duration
}

type Polling struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

type Log struct {
	Level  string
	Format string
	File   string
}

type Config struct {
	ListenAddr         string
	MetaAppID          string
	MetaAppSecret      string
	MetaRedirectURI    string
	GraphAPIBaseURL    string
	PostgresURI        string
	RedisURI           string
	FrontendURL        string
	PublicBaseURL      string
	MediaStore         string // local or r2
	MediaDir           string
	R2                 R2
	SecretKey          string
	CookieName         string
	Scheduler          Scheduler
	Polling            Polling
	StaleRunningAfter  time.Duration
	TokenRefreshWindow time.Duration
	Log                Log
}

func LoadConfig() *Config {
	return &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":3000"),
		MetaAppID:       getEnv("META_APP_ID", ""),
		MetaAppSecret:   getEnv("META_APP_SECRET", ""),
		MetaRedirectURI: getEnv("META_REDIRECT_URI", "http://localhost:3000/oauth/meta/callback"),
		GraphAPIBaseURL: getEnv("GRAPH_API_BASE_URL", "https://graph.facebook.com/v21.0"),
		PostgresURI:     getEnv("POSTGRES_URI", ""),
		RedisURI:        getEnv("REDIS_URI", "localhost:6379"),
		FrontendURL:     getEnv("FRONTEND_URL", "http://localhost:8501"),
		PublicBaseURL:   getEnv("PUBLIC_BASE_URL", "http://localhost:3000"),
		MediaStore:      getEnv("MEDIA_STORE", "local"),
		MediaDir:        getEnv("MEDIA_DIR", "data/media"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		SecretKey:  getEnv("SECRET_KEY", ""),
		CookieName: getEnv("COOKIE_NAME", "gramflow_session"),
		Scheduler: Scheduler{
			Backend:      getEnv("SCHEDULER_BACKEND", "local"),
			Concurrency:  getEnvInt("SCHEDULER_CONCURRENCY", 3),
			MisfireGrace: getEnvDuration("SCHEDULER_MISFIRE_GRACE", 30*time.Second),
			ExecTimeout:  getEnvDuration("SCHEDULER_EXEC_TIMEOUT", 10*time.Minute),
		},
		Polling: Polling{
			MaxAttempts:  getEnvInt("POLL_MAX_ATTEMPTS", 10),
			InitialDelay: getEnvDuration("POLL_INITIAL_DELAY", 2*time.Second),
			MaxDelay:     getEnvDuration("POLL_MAX_DELAY", 30*time.Second),
		},
		StaleRunningAfter:  getEnvDuration("STALE_RUNNING_AFTER", 15*time.Minute),
		TokenRefreshWindow: getEnvDuration("TOKEN_REFRESH_WINDOW", 7*24*time.Hour),
		Log: Log{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
			File:   getEnv("LOG_FILE", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return d
}
