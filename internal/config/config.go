package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	StoreDriver string
	LogLevel    string
	Timezone    string

	LineChannelSecret              string
	LineChannelAccessToken         string
	NotificationChannelAccessToken string
	LineAPIBaseURL                 string
	PushProvider                   string
	PushWebhookURL                 string
	PushWebhookToken               string
	InquiryURL                     string
	LiffChannelID                  string

	AuthKey        string
	AuthKeyBcrypt  string
	AllowedOrigins []string

	RedisAddr      string
	RedisPassword  string
	DedupTTL       time.Duration
	DedupCacheSize int

	DefaultExaminationMinutes float64
	SchedulerEnabled          bool
	DailyResetCron            string

	RateLimitPerMinute int
	RateLimitBurst     int
	ShutdownTimeout    time.Duration
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),
		StoreDriver: readString("STORE_DRIVER", "postgres"),
		LogLevel:    readString("LOG_LEVEL", "info"),
		Timezone:    readString("CLINIC_TIMEZONE", "Asia/Tokyo"),

		LineChannelSecret:              os.Getenv("LINE_CHANNEL_SECRET"),
		LineChannelAccessToken:         os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"),
		NotificationChannelAccessToken: os.Getenv("NOTIFICATION_LINE_CHANNEL_ACCESS_TOKEN"),
		LineAPIBaseURL:                 readString("LINE_API_BASE_URL", "https://api.line.me"),
		PushProvider:                   readString("PUSH_PROVIDER", "line"),
		PushWebhookURL:                 os.Getenv("PUSH_WEBHOOK_URL"),
		PushWebhookToken:               os.Getenv("PUSH_WEBHOOK_TOKEN"),
		InquiryURL:                     os.Getenv("INQUIRY_URL"),
		LiffChannelID:                  os.Getenv("LIFF_CHANNEL_ID"),

		AuthKey:        os.Getenv("AUTH_KEY"),
		AuthKeyBcrypt:  os.Getenv("AUTH_KEY_BCRYPT"),
		AllowedOrigins: readList("CORS_ALLOWED_ORIGINS", []string{"https://line-20.pages.dev", "http://localhost:5173"}),

		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		DedupTTL:       readDurationSeconds("WEBHOOK_DEDUP_TTL_SECONDS", 600),
		DedupCacheSize: readInt("WEBHOOK_DEDUP_CACHE_SIZE", 4096),

		DefaultExaminationMinutes: readFloat("DEFAULT_EXAMINATION_MINUTES", 4),
		SchedulerEnabled:          readBool("SCHEDULER_ENABLED", true),
		DailyResetCron:            os.Getenv("DAILY_RESET_CRON"),

		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		ShutdownTimeout:    readDurationSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10),
	}
}

// Location resolves Timezone, falling back to a fixed JST offset when the
// tz database is unavailable.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

func readString(key, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return raw
}

func readList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
