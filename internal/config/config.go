package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	AppEnv string

	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string
	DBSSLMode  string
	// StoreTransactions is "auto", "on" or "off".
	StoreTransactions string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	BotToken    string
	AdminChatID int64

	DailyProfitRate   decimal.Decimal
	QualifyingDeposit decimal.Decimal
	CommissionPolicy  string

	RoundDuration     time.Duration
	RoundGap          time.Duration
	RoundEntryAmount  decimal.Decimal
	ParticipantIDSalt string

	SchedulerEnabled      bool
	CronEnsureRounds      string
	CronDailyProfit       string
	CronDailyCommission   string
	CronMonthlyBonus      string
	HTTPAddr              string
	SchedulerAllowedCIDRs []string

	LogFile string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		AppEnv:            getEnv("APP_ENV", "dev"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", "postgres"),
		DBName:            getEnv("DB_NAME", "earnhub"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		StoreTransactions: strings.ToLower(getEnv("STORE_TRANSACTIONS", "auto")),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		CacheTTL:      getDuration("CACHE_TTL", 30*time.Second),

		BotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminChatID: int64(getInt("ADMIN_CHAT_ID", 0)),

		DailyProfitRate:   getDecimal("DAILY_PROFIT_RATE", decimal.RequireFromString("0.015")),
		QualifyingDeposit: getDecimal("QUALIFYING_DEPOSIT", decimal.NewFromInt(80)),
		CommissionPolicy:  getEnv("COMMISSION_POLICY", ""),

		RoundDuration:     getDuration("ROUND_DURATION", 24*time.Hour),
		RoundGap:          getDuration("ROUND_GAP", 0),
		RoundEntryAmount:  getDecimal("ROUND_ENTRY_AMOUNT", decimal.NewFromInt(10)),
		ParticipantIDSalt: getEnv("PARTICIPANT_ID_SALT", "earnhub-participants"),

		SchedulerEnabled:      getBool("SCHEDULER_ENABLED", true),
		CronEnsureRounds:      getEnv("CRON_ENSURE_ROUNDS", "@every 1m"),
		CronDailyProfit:       getEnv("CRON_DAILY_PROFIT", "5 0 * * *"),
		CronDailyCommission:   getEnv("CRON_DAILY_COMMISSION", "20 0 * * *"),
		CronMonthlyBonus:      getEnv("CRON_MONTHLY_BONUS", "30 0 1 * *"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		SchedulerAllowedCIDRs: getList("SCHEDULER_ALLOWED_CIDRS", []string{"127.0.0.1/32", "::1/128", "10.0.0.0/8"}),

		LogFile: getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("Invalid %s=%q, using %t", key, raw, fallback)
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || v < 0 {
		log.Printf("Invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return v
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || v.IsNegative() {
		log.Printf("Invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return v
}

func getList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
