package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("parcelview version %s, commit %s, built at %s", version, commit, date)
}

type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// APIConfig describes the remote identity/resource API endpoint.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig describes where durable session records live on disk.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level             string `mapstructure:"level"`
	Format            string `mapstructure:"format"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	OutputPath        string `mapstructure:"output_path"`
	DisableConsole    bool   `mapstructure:"disable_console"`
}

// InitFlags initializes command line flags (without parsing)
func InitFlags() {
	pflag.String("api.base-url", "", "Base URL of the parcelview API")
	pflag.String("storage.path", "", "Path to the local session database")
	// Note: no pflag.Parse() here as it's called in main.go
}

// DefaultStoragePath returns the per-user location of the session database.
func DefaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "parcelview.db"
	}
	return filepath.Join(dir, "parcelview", "parcelview.db")
}

func Load() (*Config, error) {
	viper.Reset() // Ensure clean state

	viper.SetEnvPrefix("PARCELVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	viper.SetDefault("api.timeout", 30*time.Second)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")

	// Load ./config.yaml first, then the per-user config directory
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	if dir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(dir, "parcelview"))
	}

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, everything has defaults or env overrides
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if baseURL := viper.GetString("api.base-url"); baseURL != "" {
		config.API.BaseURL = baseURL
	}
	if config.API.BaseURL == "" {
		return nil, fmt.Errorf("api.base_url is required, please adjust the config or pass --api.base-url or PARCELVIEW_API_BASE_URL environment variable")
	}
	config.API.BaseURL = strings.TrimRight(config.API.BaseURL, "/")

	if path := viper.GetString("storage.path"); path != "" {
		config.Storage.Path = path
	}
	if config.Storage.Path == "" {
		config.Storage.Path = DefaultStoragePath()
	}

	return &config, nil
}
