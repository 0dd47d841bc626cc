package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration, loaded from environment variables
// and optional .env files.
type Config struct {
	// External tools; empty means search PATH and the usual install dirs
	FFmpegPath  string
	FFprobePath string

	// Logging
	Development bool
	LogLevel    string
	LogFile     string // rotated JSON log, disabled when empty
	LogMaxSize  int    // megabytes

	// Pipeline
	Workers        int           // parallel export invocations
	ProbeTimeout   time.Duration
	ExportTimeout  time.Duration
	EnvelopePoints int
	WatchSources   bool
}

type source struct {
	file map[string]string
}

// Load reads configuration. Values in the environment win over values from
// envFiles; files that do not exist are skipped. With no envFiles, ".env"
// in the working directory is tried.
func Load(envFiles ...string) Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	src := source{file: make(map[string]string)}
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if err != nil {
			continue
		}
		for k, v := range vals {
			if _, seen := src.file[k]; !seen {
				src.file[k] = v
			}
		}
	}

	return Config{
		FFmpegPath:  src.str("CHANNELSTACKER_FFMPEG", ""),
		FFprobePath: src.str("CHANNELSTACKER_FFPROBE", ""),

		Development: src.bool("CHANNELSTACKER_DEV", false),
		LogLevel:    src.str("CHANNELSTACKER_LOG_LEVEL", "info"),
		LogFile:     src.str("CHANNELSTACKER_LOG_FILE", ""),
		LogMaxSize:  src.int("CHANNELSTACKER_LOG_MAX_SIZE_MB", 50),

		Workers:        src.int("CHANNELSTACKER_WORKERS", 4),
		ProbeTimeout:   time.Duration(src.int("CHANNELSTACKER_PROBE_TIMEOUT", 30)) * time.Second,
		ExportTimeout:  time.Duration(src.int("CHANNELSTACKER_EXPORT_TIMEOUT", 120)) * time.Second,
		EnvelopePoints: src.int("CHANNELSTACKER_ENVELOPE_POINTS", 4000),
		WatchSources:   src.bool("CHANNELSTACKER_WATCH", false),
	}
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) str(key, fallback string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return fallback
}

func (s source) int(key string, fallback int) int {
	if v := s.lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func (s source) bool(key string, fallback bool) bool {
	if v := s.lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
