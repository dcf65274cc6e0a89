package config

// config.go loads the run configuration from a YAML file, a .env file and
// VARFORGE_* environment variables, in increasing precedence. CLI flags are
// applied on top by the caller.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = "varforge.yaml"

// Config is the configuration of one generation run.
type Config struct {
	// Input is the installation to derive variants from.
	Input string `yaml:"input"`
	// Output receives the feature model, solver output and variants.
	Output string `yaml:"output"`
	// Generator is the solver jar.
	Generator string `yaml:"generator"`
	// Java is the java executable; "java" when empty.
	Java string `yaml:"java,omitempty"`
	// SolverCommand replaces the "<java> -jar <generator>" prefix when set.
	SolverCommand []string `yaml:"solver_command,omitempty"`

	Variants int `yaml:"variants"`
	// Time is the solver budget in seconds.
	Time             int  `yaml:"time"`
	KeepOnlyMetadata bool `yaml:"keep_only_metadata"`
	OnlyStatistics   bool `yaml:"only_statistics"`
	Workers          int  `yaml:"workers"`

	ExcludeFeaturePrefixes []string `yaml:"exclude_feature_prefixes"`
	// MandatoryFeatures are doublestar patterns over feature ids.
	MandatoryFeatures []string `yaml:"mandatory_features,omitempty"`
	// MetadataPatterns are the files kept when KeepOnlyMetadata is set.
	MetadataPatterns []string   `yaml:"metadata_patterns"`
	Scan             ScanConfig `yaml:"scan,omitempty"`

	StatsDB     string        `yaml:"stats_db,omitempty"`
	MetricsFile string        `yaml:"metrics_file,omitempty"`
	Reports     bool          `yaml:"reports,omitempty"`
	Publish     PublishConfig `yaml:"publish,omitempty"`
	Log         LogConfig     `yaml:"log,omitempty"`
}

// ScanConfig tunes catalog scanning.
type ScanConfig struct {
	// Exclude holds doublestar patterns over entry names in plugins/.
	Exclude []string `yaml:"exclude,omitempty"`
	// ExcludeFeatures holds doublestar patterns over feature ids.
	ExcludeFeatures []string `yaml:"exclude_features,omitempty"`
}

// PublishConfig describes the S3-compatible store variants are uploaded to.
type PublishConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	return &Config{
		Variants:               1,
		Time:                   60,
		Workers:                1,
		ExcludeFeaturePrefixes: []string{"org.eclipse.epp.package."},
		MetadataPatterns:       []string{"**/*.MF", "**/*.properties", "**/*.xml"},
		Publish:                PublishConfig{Region: "us-east-1"},
		Log:                    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (a missing file yields defaults), then .env, then the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
		}
	}

	// A .env next to the config file, then one in the working directory.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	_ = godotenv.Load()

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from VARFORGE_* variables.
func (c *Config) ApplyEnv() error {
	c.Input = firstNonEmpty(env("VARFORGE_INPUT"), c.Input)
	c.Output = firstNonEmpty(env("VARFORGE_OUTPUT"), c.Output)
	c.Generator = firstNonEmpty(env("VARFORGE_GENERATOR"), c.Generator)
	c.Java = firstNonEmpty(env("VARFORGE_JAVA"), c.Java)
	c.StatsDB = firstNonEmpty(env("VARFORGE_STATS_DB"), c.StatsDB)
	c.MetricsFile = firstNonEmpty(env("VARFORGE_METRICS_FILE"), c.MetricsFile)
	c.Log.Level = firstNonEmpty(env("VARFORGE_LOG_LEVEL"), c.Log.Level)
	c.Log.Format = firstNonEmpty(env("VARFORGE_LOG_FORMAT"), c.Log.Format)

	for name, dst := range map[string]*int{
		"VARFORGE_VARIANTS": &c.Variants,
		"VARFORGE_TIME":     &c.Time,
		"VARFORGE_WORKERS":  &c.Workers,
	} {
		if raw := env(name); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
			*dst = v
		}
	}

	p := &c.Publish
	p.Endpoint = firstNonEmpty(env("VARFORGE_S3_ENDPOINT"), p.Endpoint)
	p.Region = firstNonEmpty(env("VARFORGE_S3_REGION"), p.Region)
	p.Bucket = firstNonEmpty(env("VARFORGE_S3_BUCKET"), p.Bucket)
	p.Prefix = firstNonEmpty(env("VARFORGE_S3_PREFIX"), p.Prefix)
	p.AccessKey = firstNonEmpty(env("VARFORGE_S3_ACCESS_KEY"), p.AccessKey)
	p.SecretKey = firstNonEmpty(env("VARFORGE_S3_SECRET_KEY"), p.SecretKey)
	for name, dst := range map[string]*bool{
		"VARFORGE_S3_ENABLED": &p.Enabled,
		"VARFORGE_S3_USE_SSL": &p.UseSSL,
	} {
		if raw := env(name); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
			*dst = v
		}
	}
	return nil
}

// Validate checks required fields and normalises Workers.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Input) == "" {
		errs = append(errs, errors.New("input is required"))
	}
	if strings.TrimSpace(c.Output) == "" {
		errs = append(errs, errors.New("output is required"))
	}
	if c.Variants < 1 {
		errs = append(errs, fmt.Errorf("variants must be at least 1, got %d", c.Variants))
	}
	if c.Time < 0 {
		errs = append(errs, fmt.Errorf("time must not be negative, got %d", c.Time))
	}
	if len(c.SolverCommand) == 0 && strings.TrimSpace(c.Generator) == "" {
		errs = append(errs, errors.New("generator is required"))
	}
	if c.Publish.Enabled && (c.Publish.Endpoint == "" || c.Publish.Bucket == "") {
		errs = append(errs, errors.New("publish needs endpoint and bucket"))
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ValidateInput checks only the fields needed to read an installation.
func (c *Config) ValidateInput() error {
	if strings.TrimSpace(c.Input) == "" {
		return errors.New("config: input is required")
	}
	return nil
}

// Save writes c as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func env(name string) string { return strings.TrimSpace(os.Getenv(name)) }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
