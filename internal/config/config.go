// Package config loads the service configuration from environment
// variables (WOA_*) with optional .env and config-file overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration. Every field has a default,
// so an empty environment yields a runnable local setup.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// StorageRoot holds the uploads/, results/ and temp/ directories.
	StorageRoot  string `mapstructure:"storage_root"`
	DatabasePath string `mapstructure:"database_path"`

	// Upload limits.
	MaxFileSizeMB  int      `mapstructure:"max_file_size_mb"`
	MaxFilesPerJob int      `mapstructure:"max_files_per_job"`
	AllowedExts    []string `mapstructure:"allowed_extensions"`

	// Recognition defaults.
	Device       string `mapstructure:"device"`
	ModelRoot    string `mapstructure:"model_root"`
	NumThreads   int    `mapstructure:"num_threads"`
	ChunkSeconds int    `mapstructure:"chunk_seconds"`

	// ConformerContainerID is the docker container serving the
	// fast_conformer backend.
	ConformerContainerID string `mapstructure:"conformer_container_id"`

	// EnabledProviders lists the feature-flagged external backends that
	// may be requested.
	EnabledProviders []string `mapstructure:"enabled_providers"`

	// DiarizeModelPath is the speaker embedding onnx model.
	DiarizeModelPath string `mapstructure:"diarize_model_path"`

	// Worker pool.
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`
	CleanupAfterDays  int `mapstructure:"cleanup_after_days"`

	CORSOrigins []string `mapstructure:"cors_origins"`
	LogLevel    string   `mapstructure:"log_level"`
}

// Load reads configuration with precedence: environment variables over
// an optional config file over defaults. A .env file in the working
// directory is folded into the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("woa")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("storage_root", "storage")
	v.SetDefault("database_path", "storage/jobs.db")
	v.SetDefault("max_file_size_mb", 500)
	v.SetDefault("max_files_per_job", 10)
	v.SetDefault("allowed_extensions", []string{".wav", ".mp3", ".m4a", ".flac", ".ogg", ".mp4", ".mkv"})
	v.SetDefault("device", "cuda")
	v.SetDefault("model_root", "models")
	v.SetDefault("num_threads", 4)
	v.SetDefault("chunk_seconds", 30)
	v.SetDefault("conformer_container_id", "")
	v.SetDefault("enabled_providers", []string{})
	v.SetDefault("diarize_model_path", "models/diarize/wespeaker_resnet34.onnx")
	v.SetDefault("max_concurrent_jobs", 3)
	v.SetDefault("cleanup_after_days", 7)
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("log_level", "info")
}

// UploadDir returns the directory uploaded files are stored in.
func (c *Config) UploadDir() string { return filepath.Join(c.StorageRoot, "uploads") }

// ResultDir returns the directory artifacts are written under.
func (c *Config) ResultDir() string { return filepath.Join(c.StorageRoot, "results") }

// TempDir returns the scratch directory for downloads and conversions.
func (c *Config) TempDir() string { return filepath.Join(c.StorageRoot, "temp") }

// MaxFileSizeBytes returns the upload size limit in bytes.
func (c *Config) MaxFileSizeBytes() int64 { return int64(c.MaxFileSizeMB) << 20 }

// AllowedExt reports whether the filename's extension is accepted.
func (c *Config) AllowedExt(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range c.AllowedExts {
		if ext == allowed {
			return true
		}
	}
	return false
}
