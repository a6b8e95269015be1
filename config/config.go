package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppMode             string
	DBPath              string
	MetricsAddr         string
	ExpirySweepInterval time.Duration
	ExpiryHorizon       time.Duration
	QueueSweepInterval  time.Duration
	QueueMaxRetries     int
	QueueMaxAgeDays     int
	DevicePruneDays     int
	SealerKeyHex        string
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppMode:             getEnv("APP_MODE", "development"),
		DBPath:              getEnv("DB_PATH", "cipherstore.db"),
		MetricsAddr:         getEnv("METRICS_ADDR", ":9190"),
		ExpirySweepInterval: getEnvAsDuration("EXPIRY_SWEEP_INTERVAL", 30*time.Second),
		ExpiryHorizon:       getEnvAsDuration("EXPIRY_HORIZON", 5*time.Minute),
		QueueSweepInterval:  getEnvAsDuration("QUEUE_SWEEP_INTERVAL", 15*time.Second),
		QueueMaxRetries:     getEnvAsInt("QUEUE_MAX_RETRIES", 5),
		QueueMaxAgeDays:     getEnvAsInt("QUEUE_MAX_AGE_DAYS", 7),
		DevicePruneDays:     getEnvAsInt("DEVICE_PRUNE_DAYS", 30),
		SealerKeyHex:        getEnv("SEALER_KEY", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
