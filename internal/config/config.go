package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DataModeOnline  = "online"
	DataModeOffline = "offline"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DataMode              string
	DatabaseURL           string
	MigrateOnStart        bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ReportCacheTTLSeconds int
	ReportTimezone        string
	DefaultCurrency       string
	AuthSecret            string
	AccessTokenTTLMinutes int
	RequestTimeoutSeconds int
	SyncIntervalSeconds   int
	LogLevel              string
	LogFormat             string
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	mode := strings.ToLower(getEnv("DATA_MODE", DataModeOnline))
	if mode != DataModeOffline {
		mode = DataModeOnline
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DataMode:              mode,
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MigrateOnStart:        getEnvBool("MIGRATE_ON_START", false),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0, 0),
		ReportCacheTTLSeconds: getEnvInt("REPORT_CACHE_TTL_SECONDS", 60, 1),
		ReportTimezone:        getEnv("REPORT_TIMEZONE", "America/Bogota"),
		DefaultCurrency:       strings.ToUpper(getEnv("DEFAULT_CURRENCY", "COP")),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		RequestTimeoutSeconds: getEnvInt("REQUEST_TIMEOUT_SECONDS", 15, 1),
		SyncIntervalSeconds:   getEnvInt("SYNC_INTERVAL_SECONDS", 60, 0),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Offline() bool {
	return c.DataMode == DataModeOffline
}

// ReportLocation resolves ReportTimezone, falling back to UTC.
func (c Config) ReportLocation() *time.Location {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

// getEnvInt returns fallback when the value is missing, malformed or below min.
func getEnvInt(key string, fallback int, minimum int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < minimum {
		return fallback
	}
	return val
}

func getEnvBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}
