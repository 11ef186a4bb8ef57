package config

import (
	"os"
	"strconv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type SchedulerConfig struct {
	// PollIntervalSeconds is the cadence of the due-job query
	PollIntervalSeconds int
	// Workers bounds concurrent job executions
	Workers int
	// OrphanGraceSeconds is added to a job's timeout before a stale
	// running record is treated as orphaned at startup
	OrphanGraceSeconds int
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "localhost"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "l3v3l"),
			Password: getEnv("DB_PASSWORD", "l3v3l123"),
			DBName:   getEnv("DB_NAME", "l3v3l_core"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Scheduler: SchedulerConfig{
			PollIntervalSeconds: getEnvAsInt("SCHEDULER_POLL_INTERVAL", 30),
			Workers:             getEnvAsInt("SCHEDULER_WORKERS", 4),
			OrphanGraceSeconds:  getEnvAsInt("SCHEDULER_ORPHAN_GRACE", 300),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (c *Config) DatabaseURL() string {
	// If DATABASE_URL is set, use it directly
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return databaseURL
	}

	// Otherwise, construct from individual components
	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.DBName + "?sslmode=" + c.Database.SSLMode
}
