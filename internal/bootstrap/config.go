// Package bootstrap 负责配置加载与应用装配。
package bootstrap

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config 是服务的全部运行配置，从环境变量读取。
// RedisAddr 为空时降级为纯内存模式（无持久化、无限流、无归档）；
// MySQLDSN 为空时只关闭时间线归档。
type Config struct {
	Port          string
	JWTSecret     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MySQLDSN      string
	RateLimit     int
	RateWindow    time.Duration
	MaxUndoSteps  int
	MergeWindow   time.Duration
	TimelineCap   int
	LogLevel      string
}

// LoadConfig 加载 .env（如存在）并读取环境变量。
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		MySQLDSN:      getEnv("MYSQL_DSN", ""),
		RateLimit:     getEnvInt("RATE_LIMIT", 120),
		RateWindow:    time.Minute,
		MaxUndoSteps:  getEnvInt("MAX_UNDO_STEPS", 0),
		MergeWindow:   time.Duration(getEnvInt("MERGE_WINDOW_MS", 0)) * time.Millisecond,
		TimelineCap:   getEnvInt("TIMELINE_CAP", 0),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// SetupLogger 按配置初始化 logrus。
func SetupLogger(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.WithField("key", key).Warn("Invalid integer in environment, using default")
		return fallback
	}
	return n
}
