package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/km-arc/go-injector/framework/profile"
)

// Config is the central typed configuration struct.
// Embed or extend it in your app's own config.
type Config struct {
	App      AppConfig
	Injector InjectorConfig
	Inspect  InspectConfig
	Log      LogConfig
}

type AppConfig struct {
	Name  string
	Env   string // local | production | testing
	Debug bool
}

type InjectorConfig struct {
	// EnvProvider names the environment bootstrap run on the first miss.
	EnvProvider string
	// Profiles are activated at boot, in addition to the default profile.
	Profiles []profile.Profile
	// ResourcesDir holds the application*.yml property files.
	ResourcesDir  string
	PruneUncached bool
}

type InspectConfig struct {
	Addr string // empty disables the endpoint
}

type LogConfig struct {
	Level string
}

// Load reads the env file (if present) and populates a Config from
// environment variables. Without envFiles it reads $ENV_FILE_PATH, or .env.
//
//	cfg, err := config.Load()
func Load(envFiles ...string) (*Config, error) {
	files := envFiles
	if len(files) == 0 {
		files = []string{env("ENV_FILE_PATH", ".env")}
	}
	// Non-fatal: the env file may not exist in production
	_ = godotenv.Load(files...)

	profiles, err := ParseProfiles(os.Getenv("INJECTOR_PROFILES"))
	if err != nil {
		return nil, err
	}

	return &Config{
		App: AppConfig{
			Name:  env("APP_NAME", "go-injector"),
			Env:   env("APP_ENV", "local"),
			Debug: envBool("APP_DEBUG", true),
		},
		Injector: InjectorConfig{
			EnvProvider:   env("ENV_PROVIDER", ""),
			Profiles:      profiles,
			ResourcesDir:  ResourcesDir(),
			PruneUncached: envBool("INJECTOR_PRUNE_UNCACHED", false),
		},
		Inspect: InspectConfig{
			Addr: env("INSPECT_ADDR", ""),
		},
		Log: LogConfig{
			Level: env("LOG_LEVEL", "info"),
		},
	}, nil
}

// ResourcesDir returns $RESOURCES_DIR, else $PROJ_HOME/resources, else
// ./resources.
func ResourcesDir() string {
	if dir := os.Getenv("RESOURCES_DIR"); dir != "" {
		return dir
	}
	if home := os.Getenv("PROJ_HOME"); home != "" {
		return filepath.Join(home, "resources")
	}
	return "resources"
}

// ParseProfiles parses a comma separated list of name:priority pairs. A
// name without a priority gets priority 0.
//
//	ParseProfiles("prod:10, test") // prod:10, test:0
func ParseProfiles(s string) ([]profile.Profile, error) {
	var out []profile.Profile
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, prio, found := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("config: empty profile name in %q", s)
		}
		priority := 0
		if found {
			p, err := strconv.Atoi(strings.TrimSpace(prio))
			if err != nil {
				return nil, fmt.Errorf("config: profile %s priority: %w", name, err)
			}
			priority = p
		}
		out = append(out, profile.New(name, priority))
	}
	return out, nil
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
