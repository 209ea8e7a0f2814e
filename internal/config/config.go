// Package config holds toposcan's runtime configuration: a layered
// defaults/JSON-file/environment/flag chain adapted from config/config.go's
// Default/Load/LoadFromEnv/Validate shape, retargeted at spec.md §6's CLI
// surface plus the exchange/monitor/profiler additions.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is toposcan's full runtime configuration.
type Config struct {
	ClusterName string `json:"cluster_name"`
	LogLevel    string `json:"log_level"`
	LogJSON     bool   `json:"log_json"`

	Blocks    int    `json:"blocks"`     // -b
	MaxMemory int    `json:"max_memory"` // -m, -1 = unlimited
	Jobs      int    `json:"jobs"`       // -j
	Storage   string `json:"storage"`    // -s

	Rho          float64 `json:"rho"`           // -i
	Theta        float64 `json:"theta"`         // -x
	Absolute     bool    `json:"absolute"`      // -a
	Negate       bool    `json:"negate"`        // -n
	Wrap         bool    `json:"wrap"`          // true by default; -w/--no-wrap clears it
	SplitIO      bool    `json:"split_io"`      // --split
	ProfilePath  string  `json:"profile_path"`  // -p
	ProfileDSN   string  `json:"profile_dsn"`   // postgres DSN; when set it is used instead of ProfilePath
	MonitorAddr  string  `json:"monitor_addr"`  // (ADDED) --monitor
	ClusterToken string  `json:"cluster_token"` // (ADDED) --cluster-secret, signs RankToken JWTs
}

// Default returns spec.md §6's documented flag defaults.
func Default() *Config {
	return &Config{
		ClusterName: "toposcan",
		LogLevel:    "info",
		Blocks:      0, // 0 means "= nranks", resolved once nranks is known
		MaxMemory:   -1,
		Jobs:        1,
		Storage:     "./DIY.XXXXXX",
		Wrap:        true,
	}
}

// Load reads a JSON config file, expanding ${VAR} environment references
// exactly as config.Load does.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	data = []byte(os.Expand(string(data), os.Getenv))

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config json: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays TOPOSCAN_-prefixed environment variables onto cfg.
func (cfg *Config) ApplyEnv() {
	cfg.ClusterName = getenvStr("TOPOSCAN_CLUSTER_NAME", cfg.ClusterName)
	cfg.LogLevel = getenvStr("TOPOSCAN_LOG_LEVEL", cfg.LogLevel)
	cfg.Storage = getenvStr("TOPOSCAN_STORAGE", cfg.Storage)
	cfg.ProfileDSN = getenvStr("TOPOSCAN_PROFILE_DSN", cfg.ProfileDSN)
	cfg.MonitorAddr = getenvStr("TOPOSCAN_MONITOR_ADDR", cfg.MonitorAddr)
	cfg.ClusterToken = getenvStr("TOPOSCAN_CLUSTER_SECRET", cfg.ClusterToken)
	cfg.Jobs = getenvInt("TOPOSCAN_JOBS", cfg.Jobs)
	cfg.MaxMemory = getenvInt("TOPOSCAN_MAX_MEMORY", cfg.MaxMemory)
}

// Validate enforces spec.md §7(ii)'s threshold-inconsistency check — when
// integrals are requested, the integral threshold theta may not exceed the
// mask threshold rho in non-negate mode, nor fall below it in negate mode
// — plus basic range checks.
func (cfg *Config) Validate(integralsRequested bool) error {
	var problems []string
	if cfg.Jobs <= 0 {
		problems = append(problems, fmt.Sprintf("jobs(%d) must be positive", cfg.Jobs))
	}
	if cfg.Blocks < 0 {
		problems = append(problems, fmt.Sprintf("blocks(%d) must be non-negative", cfg.Blocks))
	}
	if integralsRequested && !cfg.Negate && cfg.Theta > cfg.Rho {
		problems = append(problems, fmt.Sprintf("theta(%g) > rho(%g) is inconsistent in non-negate mode", cfg.Theta, cfg.Rho))
	}
	if integralsRequested && cfg.Negate && cfg.Theta < cfg.Rho {
		problems = append(problems, fmt.Sprintf("theta(%g) < rho(%g) is inconsistent in negate mode", cfg.Theta, cfg.Rho))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, ", "))
	}
	return nil
}

func (cfg *Config) String() string {
	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}

func getenvStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
