package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the central typed configuration struct.
type Config struct {
	App      AppConfig
	Log      LogConfig
	Admin    AdminConfig
	Modules  ModulesConfig
	Manifest ManifestConfig
}

type AppConfig struct {
	Name  string
	Env   string // local | production | testing
	Debug bool
}

type LogConfig struct {
	Level  string // zerolog level name
	Format string // json | console
}

// AdminConfig controls the administrative HTTP surface.
type AdminConfig struct {
	Enabled bool
	Addr    string
	// Token, when set, is required as a bearer token on mutating requests.
	Token string
}

// ModulesConfig tunes module graph resolution.
type ModulesConfig struct {
	// SourceRoot is the application's own source directory. Modules declared
	// outside it are external and receive no global providers.
	SourceRoot  string
	AllowCycles bool
}

// ManifestConfig locates the YAML module manifest.
type ManifestConfig struct {
	Path  string
	Watch bool
}

// Load reads .env (if present) and populates a Config from environment variables.
// Call once at bootstrap: cfg := config.Load()
func Load(envFiles ...string) *Config {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	// Non-fatal: .env may not exist in production
	_ = godotenv.Load(files...)

	return &Config{
		App: AppConfig{
			Name:  env("APP_NAME", "modgraph"),
			Env:   env("APP_ENV", "local"),
			Debug: envBool("APP_DEBUG", true),
		},
		Log: LogConfig{
			Level:  env("LOG_LEVEL", "info"),
			Format: env("LOG_FORMAT", "console"),
		},
		Admin: AdminConfig{
			Enabled: envBool("ADMIN_ENABLED", true),
			Addr:    env("ADMIN_ADDR", ":8070"),
			Token:   env("ADMIN_TOKEN", ""),
		},
		Modules: ModulesConfig{
			SourceRoot:  env("APP_SOURCE_ROOT", "."),
			AllowCycles: envBool("MODULES_ALLOW_CYCLES", false),
		},
		Manifest: ManifestConfig{
			Path:  env("MANIFEST_PATH", "modules.yaml"),
			Watch: envBool("MANIFEST_WATCH", false),
		},
	}
}

// Get returns a raw env value, falling back to defaultVal.
func Get(key, defaultVal string) string {
	return env(key, defaultVal)
}

// GetInt returns an int env value.
func GetInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// GetBool returns a bool env value.
func GetBool(key string, defaultVal bool) bool {
	return envBool(key, defaultVal)
}

// ── helpers ─────────────────────────────────────────────────────────────────

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
