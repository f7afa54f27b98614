// Package config provides configuration for the asyncfs mount daemon:
// YAML files layered with environment variables, plus validation and the
// translation into the flat option map the adapter consumes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/asyncfs/asyncfs/internal/metrics"
	s3store "github.com/asyncfs/asyncfs/internal/store/s3"
)

// Configuration represents the complete daemon configuration.
type Configuration struct {
	Global  GlobalConfig   `yaml:"global"`
	Mount   MountConfig    `yaml:"mount"`
	S3      s3store.Config `yaml:"s3"`
	Metrics metrics.Config `yaml:"metrics"`
}

// GlobalConfig represents global daemon settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// MountConfig represents one mount.
type MountConfig struct {
	// StoreURI selects the backing store: s3://bucket or mem://.
	StoreURI string `yaml:"store_uri"`

	// MountPoint is the local directory the filesystem is exposed at.
	MountPoint string `yaml:"mount_point"`

	// Type is the backing filesystem kind: PERSISTENT, TEMPORARY or empty
	// (PERSISTENT).
	Type string `yaml:"type"`

	// ExpectedSize is the quota hint in bytes passed to the backing open.
	ExpectedSize uint64 `yaml:"expected_size"`

	// Source is the path prefix applied to every operation.
	Source string `yaml:"source"`

	// BlockingOpen forces the backing open to run to completion during
	// mount instead of resolving asynchronously.
	BlockingOpen bool `yaml:"blocking_open"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
		},
		Mount: MountConfig{
			Type: "PERSISTENT",
		},
		S3:      *s3store.DefaultConfig(),
		Metrics: *metrics.DefaultConfig(),
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays configuration from ASYNCFS_* environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("ASYNCFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("ASYNCFS_STORE_URI"); val != "" {
		c.Mount.StoreURI = val
	}
	if val := os.Getenv("ASYNCFS_MOUNT_POINT"); val != "" {
		c.Mount.MountPoint = val
	}
	if val := os.Getenv("ASYNCFS_EXPECTED_SIZE"); val != "" {
		if size, err := strconv.ParseUint(val, 10, 63); err == nil {
			c.Mount.ExpectedSize = size
		}
	}
	if val := os.Getenv("ASYNCFS_SOURCE"); val != "" {
		c.Mount.Source = val
	}
	if val := os.Getenv("ASYNCFS_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("ASYNCFS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}
	if val := os.Getenv("AWS_REGION"); val != "" && c.S3.Region == "" {
		c.S3.Region = val
	}
	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	switch c.Mount.Type {
	case "", "PERSISTENT", "TEMPORARY":
	default:
		return fmt.Errorf("invalid mount type: %s (must be PERSISTENT or TEMPORARY)", c.Mount.Type)
	}

	if c.Mount.StoreURI == "" {
		return fmt.Errorf("store_uri is required")
	}
	scheme, _, ok := strings.Cut(c.Mount.StoreURI, "://")
	if !ok {
		return fmt.Errorf("store_uri must look like scheme://target: %s", c.Mount.StoreURI)
	}
	switch scheme {
	case "s3", "mem":
	default:
		return fmt.Errorf("unsupported store scheme: %s (only s3:// and mem:// supported)", scheme)
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// MountOptions renders the flat option map consumed by the adapter.
func (c *Configuration) MountOptions() map[string]string {
	opts := map[string]string{}
	if c.Mount.Type != "" {
		opts["type"] = c.Mount.Type
	}
	if c.Mount.ExpectedSize != 0 {
		opts["expected_size"] = strconv.FormatUint(c.Mount.ExpectedSize, 10)
	}
	if c.Mount.Source != "" {
		opts["SOURCE"] = c.Mount.Source
	}
	return opts
}
