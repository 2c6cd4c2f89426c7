package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/litepack/litepack/pkg/types"
)

// Metadata backends
const (
	BackendNative        = "native"
	BackendTFLiteSupport = "tflite-support"
)

// Config represents the litepack configuration
type Config struct {
	// Artifact locations
	Paths PathsConfig `mapstructure:"paths" yaml:"paths"`

	// Conversion stage
	Converter ConverterConfig `mapstructure:"converter" yaml:"converter"`

	// Metadata stage
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// UI settings
	UI UIConfig `mapstructure:"ui" yaml:"ui"`

	// Security settings
	Security SecurityConfig `mapstructure:"security" yaml:"security"`
}

// PathsConfig holds the filesystem contract between the stages. Relative
// paths are resolved against BaseDir.
type PathsConfig struct {
	BaseDir        string `mapstructure:"base_dir" yaml:"base_dir"`
	SourceModelDir string `mapstructure:"source_model_dir" yaml:"source_model_dir"`
	CompactModel   string `mapstructure:"compact_model" yaml:"compact_model"`
	LabelFile      string `mapstructure:"label_file" yaml:"label_file"`
	AnnotatedModel string `mapstructure:"annotated_model" yaml:"annotated_model"`
	Manifest       string `mapstructure:"manifest" yaml:"manifest"`
}

type ConverterConfig struct {
	// Python interpreter command, split with shell quoting rules
	Python        string   `mapstructure:"python" yaml:"python"`
	Optimizations []string `mapstructure:"optimizations" yaml:"optimizations"`
	FailFast      bool     `mapstructure:"fail_fast" yaml:"fail_fast"`
	// Timeout in seconds, 0 disables it
	Timeout int `mapstructure:"timeout" yaml:"timeout"`
}

type MetadataConfig struct {
	Backend       string              `mapstructure:"backend" yaml:"backend"`
	Python        string              `mapstructure:"python" yaml:"python"`
	Normalization types.Normalization `mapstructure:"normalization" yaml:"normalization"`

	ModelName        string `mapstructure:"model_name" yaml:"model_name"`
	ModelDescription string `mapstructure:"model_description" yaml:"model_description"`
	ModelVersion     string `mapstructure:"model_version" yaml:"model_version"`
	Author           string `mapstructure:"author" yaml:"author"`
	License          string `mapstructure:"license" yaml:"license"`
}

type UIConfig struct {
	ProgressBar bool `mapstructure:"progress_bar" yaml:"progress_bar"`
	Color       bool `mapstructure:"color" yaml:"color"`
	Verbose     bool `mapstructure:"verbose" yaml:"verbose"`
}

type SecurityConfig struct {
	KeysDir string `mapstructure:"keys_dir" yaml:"keys_dir"`
}

var (
	cfg *Config
	v   *viper.Viper
)

// ConverterTimeout returns the converter timeout as a duration
func (c *Config) ConverterTimeout() time.Duration {
	return time.Duration(c.Converter.Timeout) * time.Second
}

// Validate checks values that have no usable default
func (c *Config) Validate() error {
	switch c.Metadata.Backend {
	case BackendNative, BackendTFLiteSupport:
	default:
		return fmt.Errorf("unknown metadata backend %q (use %s or %s)", c.Metadata.Backend, BackendNative, BackendTFLiteSupport)
	}
	if c.Converter.Timeout < 0 {
		return fmt.Errorf("converter timeout must not be negative")
	}
	return nil
}

// Initialize sets up the configuration
func Initialize() error {
	v = viper.New()

	// Set config name and type
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Add config paths
	// 1. Same directory as executable
	if exe, err := os.Executable(); err == nil {
		v.AddConfigPath(filepath.Dir(exe))
	}

	// 2. Current working directory
	v.AddConfigPath(".")

	// 3. User config directory
	if configDir := UserConfigDir(); configDir != "" {
		v.AddConfigPath(configDir)
	}

	// Set defaults
	setDefaults(v)

	// Bind environment variables
	v.SetEnvPrefix("LITEPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// No defaults exist for these, so AutomaticEnv alone would not see them
	_ = v.BindEnv("metadata.normalization.mean")
	_ = v.BindEnv("metadata.normalization.std")

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is ok, we'll use defaults
	}

	return load()
}

// LoadFile replaces the configuration with the content of path
func LoadFile(path string) error {
	if v == nil {
		return fmt.Errorf("config not initialized")
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return load()
}

func load() error {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	expandPaths(c)
	cfg = c
	return nil
}

// setDefaults sets all default values. Normalization constants deliberately
// have none: they depend on how the model was trained.
func setDefaults(v *viper.Viper) {
	// Path defaults
	v.SetDefault("paths.base_dir", ".")
	v.SetDefault("paths.source_model_dir", "assets/ml")
	v.SetDefault("paths.compact_model", "assets/ml/food_classifier.tflite")
	v.SetDefault("paths.label_file", "assets/ml/food_labels.txt")
	v.SetDefault("paths.annotated_model", "assets/ml/food_classifier_with_metadata.tflite")
	v.SetDefault("paths.manifest", "") // Will be set to annotated_model + .manifest.json

	// Converter defaults
	v.SetDefault("converter.python", defaultPython())
	v.SetDefault("converter.optimizations", []string{"DEFAULT"})
	v.SetDefault("converter.fail_fast", false)
	v.SetDefault("converter.timeout", 0)

	// Metadata defaults
	v.SetDefault("metadata.backend", BackendNative)
	v.SetDefault("metadata.python", defaultPython())
	v.SetDefault("metadata.model_name", "")
	v.SetDefault("metadata.model_description", "")
	v.SetDefault("metadata.model_version", "")
	v.SetDefault("metadata.author", "")
	v.SetDefault("metadata.license", "")

	// UI defaults
	v.SetDefault("ui.progress_bar", true)
	v.SetDefault("ui.color", true)
	v.SetDefault("ui.verbose", false)

	// Security defaults
	v.SetDefault("security.keys_dir", "") // Will be set to the user config dir
}

func defaultPython() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// UserConfigDir returns the user's config directory
func UserConfigDir() string {
	// Use XDG_CONFIG_HOME if set
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "litepack")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "litepack")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "litepack")
		}
		return filepath.Join(home, "AppData", "Roaming", "litepack")
	default:
		return filepath.Join(home, ".config", "litepack")
	}
}

// expandPaths expands ~ and environment variables and resolves relative
// artifact paths against the base directory
func expandPaths(cfg *Config) {
	p := &cfg.Paths

	p.BaseDir = expandPath(p.BaseDir)
	if p.BaseDir == "" {
		p.BaseDir = "."
	}

	for _, path := range []*string{&p.SourceModelDir, &p.CompactModel, &p.LabelFile, &p.AnnotatedModel, &p.Manifest} {
		*path = resolve(p.BaseDir, expandPath(*path))
	}

	if p.Manifest == "" && p.AnnotatedModel != "" {
		p.Manifest = p.AnnotatedModel + ".manifest.json"
	}

	if cfg.Security.KeysDir == "" {
		if dir := UserConfigDir(); dir != "" {
			cfg.Security.KeysDir = filepath.Join(dir, "keys")
		} else {
			cfg.Security.KeysDir = filepath.Join(p.BaseDir, ".litepack", "keys")
		}
	} else {
		cfg.Security.KeysDir = expandPath(cfg.Security.KeysDir)
	}
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// expandPath expands ~ and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand ~
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	// Expand environment variables
	return os.ExpandEnv(path)
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// GetViper returns the viper instance
func GetViper() *viper.Viper {
	if v == nil {
		panic("config not initialized")
	}
	return v
}

// Default returns the configuration defaults without reading any file or
// environment variable
func Default() *Config {
	dv := viper.New()
	setDefaults(dv)
	c := &Config{}
	if err := dv.Unmarshal(c); err != nil {
		panic(fmt.Sprintf("invalid config defaults: %v", err))
	}
	return c
}
