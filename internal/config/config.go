package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the runtime settings read from the environment.
type Config struct {
	Port           string
	DatabaseURL    string
	MongoDatabase  string
	CORSOrigin     string
	RateLimitRPS   float64
	RateLimitBurst int
	LogFile        string
}

// Load reads a .env file when present and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		// production sets the variables directly
		log.Println("No .env file found, reading from environment")
	}

	cfg := Config{
		Port:           getenv("PORT", "8080"),
		DatabaseURL:    getenv("DATABASE_URL", "sqlite://crowdlines.db"),
		MongoDatabase:  getenv("MONGO_DATABASE", "crowdlines"),
		CORSOrigin:     getenv("CORS_ORIGIN", "*"),
		RateLimitRPS:   0.5,
		RateLimitBurst: 3,
		LogFile:        os.Getenv("LOG_FILE"),
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Printf("Ignoring invalid RATE_LIMIT_RPS %q: %v", v, err)
		} else {
			cfg.RateLimitRPS = rps
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil || burst < 1 {
			log.Printf("Ignoring invalid RATE_LIMIT_BURST %q", v)
		} else {
			cfg.RateLimitBurst = burst
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
