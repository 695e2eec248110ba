package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port         string
	MusicDir     string
	Bitrate      string
	StationName  string
	MaxClients   int
	SampleRate   string
	Channels     string
	PlaylistFile string
	WebDir       string
	DJUsername   string
	DJPassword   string
	JWTSecret    string
	Timezone     string

	// Library Coordinator settings.
	FilescanDisable          bool
	ClearQueueOnStopDisable  bool
	FilesystemWatchDisable   bool
	BlobCacheDir             string
	BlobContainerURL         string
	RSSDefaultLimit          int

	// Broadcast Engine settings.
	ICYMetaInt        int
	SilenceIntervalMS int
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8000"),
		MusicDir:     getEnv("MUSIC_DIR", "./music"),
		Bitrate:      getEnv("BITRATE", "128k"),
		StationName:  getEnv("STATION_NAME", "Denpa Radio"),
		MaxClients:   getEnvAsInt("MAX_CLIENTS", 100),
		SampleRate:   getEnv("SAMPLE_RATE", "44100"),
		Channels:     getEnv("CHANNELS", "2"),
		PlaylistFile: getEnv("PLAYLIST_FILE", "./data/playlists.json"),
		WebDir:       getEnv("WEB_DIR", "./web/dist"),
		DJUsername:   getEnv("DJ_USERNAME", "dj"),
		DJPassword:   getEnv("DJ_PASSWORD", "denpa"),
		JWTSecret:    getEnv("JWT_SECRET", "change-me-in-production-please"),
		Timezone:     getEnv("TIMEZONE", ""),

		FilescanDisable:         getEnvAsBool("FILESCAN_DISABLE", false),
		ClearQueueOnStopDisable: getEnvAsBool("CLEAR_QUEUE_ON_STOP_DISABLE", false),
		FilesystemWatchDisable:  getEnvAsBool("FILESYSTEM_WATCH_DISABLE", false),
		BlobCacheDir:            getEnv("BLOB_CACHE_DIR", "./data/blob-cache"),
		BlobContainerURL:        getEnv("BLOB_CONTAINER_URL", ""),
		RSSDefaultLimit:         getEnvAsInt("RSS_DEFAULT_LIMIT", 50),

		ICYMetaInt:        getEnvAsInt("ICY_METAINT", 8192),
		SilenceIntervalMS: getEnvAsInt("SILENCE_INTERVAL_MS", 1000),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultVal int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}

func getEnvAsBool(name string, defaultVal bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultVal
}
