package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr     string
	PublicURL      string
	APIBaseURL     string
	APICollection  string
	APITimeout     time.Duration
	SupportsUpdate bool
	SupportsPatch  bool
	SupportsDelete bool
	LogLevel       string
	LogFile        string
	TraceExporter  string

	StubListenAddr string
	StubDBPath     string
	StubMediaPath  string
	StubPublicURL  string
}

// Load reads the configuration from the process environment.
func Load() *Config {
	return load(lookupEnv(nil))
}

// LoadFiles is Load with dotenv files as a fallback layer. Process variables
// win over file values; earlier files win over later ones. Missing files are
// skipped.
func LoadFiles(paths ...string) (*Config, error) {
	fileVals := make(map[string]string)
	for _, p := range paths {
		vals, err := godotenv.Read(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for k, v := range vals {
			if _, seen := fileVals[k]; !seen {
				fileVals[k] = v
			}
		}
	}
	return load(lookupEnv(fileVals)), nil
}

func load(get func(key, defaultVal string) string) *Config {
	return &Config{
		ListenAddr:     get("LISTEN_ADDR", ":8080"),
		PublicURL:      get("PUBLIC_URL", "http://localhost:8080"),
		APIBaseURL:     get("API_BASE_URL", "http://localhost:8000"),
		APICollection:  get("API_COLLECTION", "spas"),
		APITimeout:     parseDuration(get("API_TIMEOUT", ""), 15*time.Second),
		SupportsUpdate: parseBool(get("SUPPORTS_UPDATE", ""), true),
		SupportsPatch:  parseBool(get("SUPPORTS_PATCH", ""), true),
		SupportsDelete: parseBool(get("SUPPORTS_DELETE", ""), true),
		LogLevel:       get("LOG_LEVEL", "info"),
		LogFile:        get("LOG_FILE", ""),
		TraceExporter:  get("TRACE_EXPORTER", "none"),

		StubListenAddr: get("STUB_LISTEN_ADDR", ":8000"),
		StubDBPath:     get("STUB_DB_PATH", "/data/spastub.db"),
		StubMediaPath:  get("STUB_MEDIA_PATH", "/data/media"),
		StubPublicURL:  get("STUB_PUBLIC_URL", "http://localhost:8000"),
	}
}

func lookupEnv(fallback map[string]string) func(key, defaultVal string) string {
	return func(key, defaultVal string) string {
		if val, exists := os.LookupEnv(key); exists {
			return val
		}
		if val, exists := fallback[key]; exists {
			return val
		}
		return defaultVal
	}
}

func parseBool(s string, defaultVal bool) bool {
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
