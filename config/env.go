package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Env holds the process-wide configuration loaded at startup. A root
// context object owns one of these and passes it explicitly to the
// components that need it, rather than each package reaching into
// os.Getenv on its own.
type Env struct {
	DatabaseURL   string
	RedisURL      string
	RedisPassword string
	RedisDB       int
	Port          string
}

// Load reads .env (if present) and the environment into an Env. Missing
// .env is a warning, not a fatal error — matches main.go's boot sequence
// in every example repo in the pack that ships a .env.
func Load() *Env {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables")
	} else {
		log.Println("✅ Loaded environment variables from .env")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB")) // unset or invalid -> 0

	return &Env{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      envOrDefault("REDIS_URL", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		Port:          port,
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
