package database

import (
	"os"
	"strconv"
	"time"
)

// LoadConfigFromEnv builds a Config from DB_* environment variables,
// falling back to an on-disk sqlite file.
func LoadConfigFromEnv() Config {
	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "10"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "5"))

	return Config{
		Driver:          getEnvOrDefault("DB_DRIVER", DriverSQLite),
		URL:             getEnvOrDefault("DB_URL", "copilotz.db"),
		SyncURL:         os.Getenv("DB_SYNC_URL"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
