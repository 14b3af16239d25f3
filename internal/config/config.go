package config

import (
	"database/sql"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
)

type Config struct {
	Port        int
	DatabaseURL string
	JWTSecret   string
	CacheDir    string

	TMDBAPIKey    string
	OMDBAPIKey    string
	FanartAPIKey  string
	YtdlpPath     string

	PreferredLanguage string
	MaxResolution     int // trailer height cap for scoring and downloads

	WorkerCount   int
	LeaseDuration int // seconds

	LogLevel string
}

func Load() *Config {
	return &Config{
		Port:              envInt("PORT", 8080),
		DatabaseURL:       env("DATABASE_URL", "postgres://metarr:metarr@db:5432/metarr?sslmode=disable"),
		JWTSecret:         env("JWT_SECRET", "change-me-in-production"),
		CacheDir:          env("CACHE_DIR", "/data/cache"),
		TMDBAPIKey:        env("TMDB_API_KEY", ""),
		OMDBAPIKey:        env("OMDB_API_KEY", ""),
		FanartAPIKey:      env("FANART_API_KEY", ""),
		YtdlpPath:         env("YTDLP_PATH", "yt-dlp"),
		PreferredLanguage: env("PREFERRED_LANGUAGE", "en"),
		MaxResolution:     envInt("MAX_RESOLUTION", 1080),
		WorkerCount:       envInt("WORKER_COUNT", 4),
		LeaseDuration:     envInt("LEASE_DURATION", 300),
		LogLevel:          env("LOG_LEVEL", "info"),
	}
}

// MergeFromDB overlays user-editable settings rows on top of the env config.
func (c *Config) MergeFromDB(db *sql.DB, logger zerolog.Logger) {
	rows, err := db.Query("SELECT key, value FROM settings")
	if err != nil {
		logger.Warn().Err(err).Msg("config: skipping DB merge")
		return
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		switch key {
		case "tmdb_api_key":
			c.TMDBAPIKey = value
		case "omdb_api_key":
			c.OMDBAPIKey = value
		case "fanart_api_key":
			c.FanartAPIKey = value
		case "preferred_language":
			c.PreferredLanguage = value
		case "max_resolution":
			if v := cast.ToInt(value); v > 0 {
				c.MaxResolution = v
			}
		case "worker_count":
			if v := cast.ToInt(value); v > 0 {
				c.WorkerCount = v
			}
		}
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
