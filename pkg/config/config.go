// Package config provides configuration handling for the proxy and
// receiver services.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/irctrakz/streamline/pkg/logging"
)

// Property bounds. Values outside their bound fail validation.
const (
	MinWorkers     = 1
	DefaultWorkers = 4
	MaxWorkers     = 256

	MinConnections     = 1
	DefaultConnections = 256
	MaxConnections     = 4096

	MinTimeoutSeconds     = 5
	DefaultTimeoutSeconds = 30
	MaxTimeoutSeconds     = 86400

	MinFileSizeBytes     = 4 * 1024
	DefaultFileSizeBytes = 32 * 1024 * 1024
	MaxFileSizeBytes     = 1024 * 1024 * 1024

	MinFileAgeSeconds     = 1
	DefaultFileAgeSeconds = 300
	MaxFileAgeSeconds     = 3600
)

// Config represents the complete service configuration.
type Config struct {
	// Engine contains the connection engine configuration.
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Receiver contains the file persistence configuration. Only the
	// receiver service reads it.
	Receiver ReceiverConfig `json:"receiver" yaml:"receiver"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// EngineConfig contains configuration shared by every service built on the
// connection engine.
type EngineConfig struct {
	// Workers is the number of worker goroutines in the pool.
	Workers int `json:"workers" yaml:"workers"`

	// Connections is the number of pre-armed connection slots per
	// acceptor.
	Connections int `json:"connections" yaml:"connections"`

	// TimeoutSeconds is the connection watchdog timeout in seconds.
	TimeoutSeconds int `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// ReceiverConfig contains configuration for the receiver's file
// persistence.
type ReceiverConfig struct {
	// FileSizeBytes is the size at which a file is rotated.
	FileSizeBytes int64 `json:"fileSizeBytes" yaml:"fileSizeBytes"`

	// FileAgeSeconds is the age at which a file is rotated.
	FileAgeSeconds int `json:"fileAgeSeconds" yaml:"fileAgeSeconds"`

	// StagingDir is the directory files are written into while open.
	StagingDir string `json:"stagingDir" yaml:"stagingDir"`

	// FinalDir is the directory finished files are moved into.
	FinalDir string `json:"finalDir" yaml:"finalDir"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Workers:        DefaultWorkers,
			Connections:    DefaultConnections,
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		Receiver: ReceiverConfig{
			FileSizeBytes:  DefaultFileSizeBytes,
			FileAgeSeconds: DefaultFileAgeSeconds,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile loads configuration from a file. The format is selected by
// the file extension.
func LoadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read config file")
	}

	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, config); err != nil {
			return errors.Wrap(err, "failed to parse JSON config")
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, config); err != nil {
			return errors.Wrap(err, "failed to parse YAML config")
		}
	default:
		return errors.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

// LoadFromEnv overlays configuration from environment variables.
func LoadFromEnv(config *Config) {
	if val := os.Getenv("ENGINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			config.Engine.Workers = workers
		}
	}
	if val := os.Getenv("ENGINE_CONNECTIONS"); val != "" {
		if conns, err := strconv.Atoi(val); err == nil {
			config.Engine.Connections = conns
		}
	}
	if val := os.Getenv("ENGINE_TIMEOUT_SECONDS"); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil {
			config.Engine.TimeoutSeconds = timeout
		}
	}

	if val := os.Getenv("RECEIVER_FILE_SIZE_BYTES"); val != "" {
		if size, err := strconv.ParseInt(val, 10, 64); err == nil {
			config.Receiver.FileSizeBytes = size
		}
	}
	if val := os.Getenv("RECEIVER_FILE_AGE_SECONDS"); val != "" {
		if age, err := strconv.Atoi(val); err == nil {
			config.Receiver.FileAgeSeconds = age
		}
	}
	if val := os.Getenv("RECEIVER_STAGING_DIR"); val != "" {
		config.Receiver.StagingDir = val
	}
	if val := os.Getenv("RECEIVER_FINAL_DIR"); val != "" {
		config.Receiver.FinalDir = val
	}

	if val := os.Getenv("LOGGING_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOGGING_FILE"); val != "" {
		config.Logging.File = val
	}
	if val := os.Getenv("LOGGING_MAX_SIZE"); val != "" {
		if maxSize, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxSize = maxSize
		}
	}
	if val := os.Getenv("LOGGING_MAX_BACKUPS"); val != "" {
		if maxBackups, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxBackups = maxBackups
		}
	}
	if val := os.Getenv("LOGGING_MAX_AGE"); val != "" {
		if maxAge, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxAge = maxAge
		}
	}
}

// Validate validates the engine and logging configuration.
func (c *Config) Validate() error {
	if c.Engine.Workers < MinWorkers || c.Engine.Workers > MaxWorkers {
		return errors.Errorf("workers %d out of range %d..%d",
			c.Engine.Workers, MinWorkers, MaxWorkers)
	}
	if c.Engine.Connections < MinConnections || c.Engine.Connections > MaxConnections {
		return errors.Errorf("connections %d out of range %d..%d",
			c.Engine.Connections, MinConnections, MaxConnections)
	}
	if c.Engine.TimeoutSeconds < MinTimeoutSeconds || c.Engine.TimeoutSeconds > MaxTimeoutSeconds {
		return errors.Errorf("timeout %ds out of range %d..%d",
			c.Engine.TimeoutSeconds, MinTimeoutSeconds, MaxTimeoutSeconds)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}

// ValidateReceiver validates the receiver file configuration, including
// the staging and final directories.
func (c *Config) ValidateReceiver() error {
	if c.Receiver.FileSizeBytes < MinFileSizeBytes || c.Receiver.FileSizeBytes > MaxFileSizeBytes {
		return errors.Errorf("file size %d out of range %d..%d",
			c.Receiver.FileSizeBytes, MinFileSizeBytes, MaxFileSizeBytes)
	}
	if c.Receiver.FileAgeSeconds < MinFileAgeSeconds || c.Receiver.FileAgeSeconds > MaxFileAgeSeconds {
		return errors.Errorf("file age %ds out of range %d..%d",
			c.Receiver.FileAgeSeconds, MinFileAgeSeconds, MaxFileAgeSeconds)
	}
	return ValidateSpoolDirs(c.Receiver.StagingDir, c.Receiver.FinalDir)
}

// ValidateSpoolDirs checks that staging and final are existing directories
// and are distinct under case-insensitive comparison.
func ValidateSpoolDirs(staging, final string) error {
	for _, dir := range []string{staging, final} {
		info, err := os.Stat(dir)
		if err != nil {
			return errors.Wrapf(err, "directory %q", dir)
		}
		if !info.IsDir() {
			return errors.Errorf("%q is not a directory", dir)
		}
	}
	if strings.EqualFold(filepath.Clean(staging), filepath.Clean(final)) {
		return errors.Errorf("staging and final directories must differ: %q", staging)
	}
	return nil
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	logging.SetLevel(logging.ParseLevel(c.Logging.Level))

	if c.Logging.File != "" {
		dir := filepath.Dir(c.Logging.File)
		filename := filepath.Base(c.Logging.File)
		if err := logging.EnableFileLogging(dir, filename,
			c.Logging.MaxSize, c.Logging.MaxBackups, c.Logging.MaxAge); err != nil {
			return errors.Wrap(err, "failed to enable file logging")
		}
	}

	return nil
}

// SaveToFile saves the configuration to a file. The format is selected by
// the file extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasSuffix(path, ".json"):
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		data, err = yaml.Marshal(c)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
	default:
		return errors.Errorf("unsupported config file format: %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "failed to create directory")
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}
