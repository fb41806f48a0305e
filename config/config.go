// Package config loads the layered configuration of SPEC_FULL.md §E:
// defaults, then an optional YAML file, then environment variables, via
// koanf — replacing the teacher's bare os.Getenv reader, which was too thin
// for this system's grouped options.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type AppConfig struct {
	Name        string `koanf:"name"`
	Environment string `koanf:"environment"`
}

type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	Output     string `koanf:"output"`
	FilePath   string `koanf:"file_path"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
}

type HTTPConfig struct {
	BindAddress        string   `koanf:"bind_address"`
	Port               int      `koanf:"port"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

type PersistenceConfig struct {
	DatabaseURL string `koanf:"database_url"`
}

type P1Config struct {
	Enabled     bool   `koanf:"enabled"`
	APIBaseURL  string `koanf:"api_base_url"`
	APITokenEnv string `koanf:"api_token_env"`
}

type P2Config struct {
	Enabled       bool   `koanf:"enabled"`
	CLIBinaryPath string `koanf:"cli_binary_path"`
	CLIConfigPath string `koanf:"cli_config_path"`
}

type ProvidersConfig struct {
	P1 P1Config `koanf:"p1"`
	P2 P2Config `koanf:"p2"`
}

type ExternalConfig struct {
	GeocoderEndpoint        string `koanf:"geocoder_endpoint"`
	LocationFinderEndpoint  string `koanf:"location_finder_endpoint"`
	LocationFinderProjectID string `koanf:"location_finder_project_id"`
}

type SupervisorConfig struct {
	LivenessInterval     time.Duration      `koanf:"liveness_interval"`
	LivenessJitter       float64            `koanf:"liveness_jitter"`
	IdleThreshold        time.Duration      `koanf:"idle_threshold"`
	StoppedTTL           time.Duration      `koanf:"stopped_ttl"`
	MonthlySoftCapUSD    float64            `koanf:"monthly_soft_cap_usd"`
	MonthlyHardCapUSD    float64            `koanf:"monthly_hard_cap_usd"`
	TierMaxSessionHours  map[string]float64 `koanf:"tier_max_session_hours"`
	TierWaitReadyCeiling map[string]string  `koanf:"tier_wait_ready_ceiling"`
}

type ProvisioningConfig struct {
	MaxInFlight int `koanf:"max_in_flight"`
}

// Config is the root of the layered configuration, matching SPEC_FULL.md §E
// except for persistence.hosts_collection and persistence.platforms_collection,
// which are not read (core/repository uses the fixed table names hosts and
// platform_profiles). Supervisor.TierMaxSessionHours is loaded but no
// component reads it; the Supervisor uses each PlatformProfile's
// max_session_hours.
type Config struct {
	App           AppConfig          `koanf:"app"`
	Log           LogConfig          `koanf:"log"`
	HTTP          HTTPConfig         `koanf:"http"`
	Persistence   PersistenceConfig  `koanf:"persistence"`
	Providers     ProvidersConfig    `koanf:"providers"`
	External      ExternalConfig     `koanf:"external"`
	Supervisor    SupervisorConfig   `koanf:"supervisor"`
	RateTablePath string             `koanf:"rate_table_path"`
	Provisioning  ProvisioningConfig `koanf:"provisioning"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"app.name":        "fleet-control-plane",
		"app.environment": "production",

		"log.level":        "info",
		"log.format":       "json",
		"log.output":       "stdout",
		"log.max_size_mb":  100,
		"log.max_backups":  5,
		"log.max_age_days": 14,

		"http.bind_address": "0.0.0.0",
		"http.port":         8080,

		"persistence.database_url": "postgres://localhost/fleet?sslmode=disable",

		"providers.p1.enabled":         true,
		"providers.p1.api_token_env":   "P1_API_TOKEN",
		"providers.p2.enabled":         true,
		"providers.p2.cli_binary_path": "/usr/local/bin/p2ctl",
		"providers.p2.cli_config_path": "/etc/p2ctl/config.yaml",

		"supervisor.liveness_interval":    "15m",
		"supervisor.liveness_jitter":      0.10,
		"supervisor.idle_threshold":       "10m",
		"supervisor.stopped_ttl":          "48h",
		"supervisor.monthly_soft_cap_usd": 4000.0,
		"supervisor.monthly_hard_cap_usd": 5000.0,

		"rate_table_path": "/etc/fleet/rate_table.yaml",

		"provisioning.max_in_flight": 32,
	}
}

// Load builds the layered configuration: defaults -> YAML file (if path is
// non-empty and exists) -> environment variables. Env vars override any key
// already set by the defaults or the YAML file, named by koanf's "."->"_"
// flattening uppercased, e.g. SUPERVISOR_IDLE_THRESHOLD. Other env vars map
// every "_" to ".", so a key with "_" in its own name that neither layer sets
// cannot be set from the environment.
func Load(yamlPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if yamlPath != "" {
		if _, err := os.Stat(yamlPath); err == nil {
			if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: load file %s: %w", yamlPath, err)
			}
		}
	}

	known := make(map[string]string)
	for _, key := range k.Keys() {
		known[strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	if err := k.Load(env.Provider("", ".", func(s string) string {
		if key, ok := known[s]; ok {
			return key
		}
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// WaitReadyCeilingDurations parses tier_wait_ready_ceiling into durations.
// An entry whose value does not parse gets 10m; tiers the config omits are
// absent from the result.
func (c *Config) WaitReadyCeilingDurations() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Supervisor.TierWaitReadyCeiling))
	for tier, raw := range c.Supervisor.TierWaitReadyCeiling {
		d, err := time.ParseDuration(raw)
		if err != nil {
			d = 10 * time.Minute
		}
		out[tier] = d
	}
	return out
}

// P1Token resolves the P1 bearer token from the environment variable named
// by providers.p1.api_token_env.
func (c *Config) P1Token() string {
	return os.Getenv(c.Providers.P1.APITokenEnv)
}
