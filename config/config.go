package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"insights-pipeline/models"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DataDir     string
	ModelDir    string
	ResultsDir  string
	StateDBPath string
	MetricsFile string
	LogLevel    string

	PostgresEnabled  bool
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	Domains         []models.Domain
	MaxConcurrency  int
	RateLimitMs     int
	MaxRetries      int
	PipelineTimeout time.Duration
	HTTPTimeout     time.Duration

	CovidURL       string
	CovidDays      int
	WeatherURL     string
	WeatherAPIKey  string
	WeatherCity    string
	StockURL       string
	StockAPIKey    string
	StockSymbol    string
	PopulationURL  string
	PopulationRows int
	ChromeBin      string

	RandomSeed     int64
	TestFraction   float64
	ForestTrees    int
	BoostingRounds int
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only. Out-of-range
// values are clamped or replaced by their defaults.
func FromEnv() *Config {
	return &Config{
		DataDir:     getEnv("DATA_DIR", "./data"),
		ModelDir:    getEnv("MODEL_DIR", "./models_store"),
		ResultsDir:  getEnv("RESULTS_DIR", "./data"),
		StateDBPath: getEnv("STATE_DB_PATH", "./data/pipeline.db"),
		MetricsFile: getEnv("METRICS_FILE", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		PostgresEnabled:  getEnvBool("POSTGRES_ENABLED", false),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "pipeline"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "pipeline123"),
		PostgresDB:       getEnv("POSTGRES_DB", "insights_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		Domains:         getEnvDomains("DOMAINS"),
		MaxConcurrency:  clampInt(getEnvInt("MAX_CONCURRENCY", 1), 1, 16),
		RateLimitMs:     clampInt(getEnvInt("RATE_LIMIT_MS", 0), 0, 60_000),
		MaxRetries:      clampInt(getEnvInt("MAX_RETRIES", 3), 1, 10),
		PipelineTimeout: getEnvDuration("PIPELINE_TIMEOUT", 10*time.Minute),
		HTTPTimeout:     getEnvDuration("HTTP_TIMEOUT", 30*time.Second),

		CovidURL:       getEnv("COVID_API_URL", ""),
		CovidDays:      clampInt(getEnvInt("COVID_DAYS", 30), 1, 3650),
		WeatherURL:     getEnv("WEATHER_API_URL", ""),
		WeatherAPIKey:  getEnv("WEATHER_API_KEY", ""),
		WeatherCity:    getEnv("WEATHER_CITY", "New York"),
		StockURL:       getEnv("STOCK_API_URL", ""),
		StockAPIKey:    getEnv("STOCK_API_KEY", "demo"),
		StockSymbol:    getEnv("STOCK_SYMBOL", "AAPL"),
		PopulationURL:  getEnv("POPULATION_URL", ""),
		PopulationRows: clampInt(getEnvInt("POPULATION_ROWS", 20), 1, 500),
		ChromeBin:      getEnv("CHROME_BIN", ""),

		RandomSeed:     int64(getEnvInt("RANDOM_SEED", 42)),
		TestFraction:   clampFloat(getEnvFloat("TEST_FRACTION", 0.2), 0.05, 0.5),
		ForestTrees:    clampInt(getEnvInt("FOREST_TREES", 100), 1, 1000),
		BoostingRounds: clampInt(getEnvInt("BOOSTING_ROUNDS", 100), 1, 1000),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
		log.Printf("[config] %s=%q is not an integer, using %d", key, val, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
		log.Printf("[config] %s=%q is not a number, using %g", key, val, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	log.Printf("[config] %s=%q is not a duration, using %s", key, val, fallback)
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvDomains parses a comma-separated domain list; unknown names are
// ignored and an empty result means every domain.
func getEnvDomains(key string) []models.Domain {
	var out []models.Domain
	for _, name := range getEnvList(key) {
		d, err := models.ParseDomain(strings.ToLower(name))
		if err != nil {
			log.Printf("[config] %s: %v", key, err)
			continue
		}
		out = append(out, d)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
