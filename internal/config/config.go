// Package config loads agent configuration from defaults, an optional
// YAML file and ZEPHYR_-prefixed environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/logging"
)

// Config holds the agent configuration.
type Config struct {
	// APIBaseURL is the Zephyr API used for application configuration,
	// build ids, dependency resolution and reporting.
	APIBaseURL string `yaml:"api_base_url" env:"API_BASE_URL"`
	// AuthURL is the browser authorization page for interactive login.
	AuthURL string `yaml:"auth_url" env:"AUTH_URL"`
	// SocketURL is the websocket endpoint the login flow listens on.
	SocketURL string `yaml:"socket_url" env:"SOCKET_URL"`

	// CacheDir holds the token file and the persisted TTL store.
	CacheDir string `yaml:"cache_dir" env:"CACHE_DIR"`
	// TokenPath overrides the persisted access-token location.
	TokenPath string `yaml:"token_path" env:"TOKEN_PATH"`

	// Platform forces an upload strategy instead of the one the
	// application configuration reports. Empty means "use the config".
	Platform string `yaml:"platform" env:"PLATFORM"`

	// BuildDir is the front-end build output directory to publish.
	BuildDir string `yaml:"build_dir" env:"BUILD_DIR"`

	// DeployResultPath is where the deploy result is written on CI.
	DeployResultPath string `yaml:"deploy_result_path" env:"DEPLOY_RESULT_PATH"`

	// HTTPTimeout bounds every single HTTP call to the edge or API.
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT"`

	// MetricsAddress enables the Prometheus endpoint when non-empty.
	MetricsAddress string `yaml:"metrics_address" env:"METRICS_ADDRESS"`

	// CI is auto-detected from the CI environment variable.
	CI bool `yaml:"-"`

	Log logging.Config `yaml:"log" envPrefix:"LOG_"`
}

// Default returns the built-in configuration.
func Default() Config {
	cacheDir := defaultCacheDir()
	return Config{
		APIBaseURL:       "https://api.zephyr-cloud.io",
		AuthURL:          "https://app.zephyr-cloud.io/login",
		SocketURL:        "wss://socket.zephyr-cloud.io/ws",
		CacheDir:         cacheDir,
		TokenPath:        filepath.Join(cacheDir, "token.json"),
		BuildDir:         "dist",
		DeployResultPath: "zephyr-deploy-result.json",
		HTTPTimeout:      30 * time.Second,
		Log: logging.Config{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or the file does not exist), then
// environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "ZEPHYR_"}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.CI = os.Getenv("CI") == "true" || os.Getenv("CI") == "1"

	return cfg, nil
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "zephyr-agent")
}
