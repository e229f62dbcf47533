package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RequiredSections are the top-level keys every document must define as mappings.
var RequiredSections = []string{"metadata", "logging", "pipeline", "inputs", "outputs", "model", "flags"}

// Config is the typed view of a merged configuration tree. Sections that only
// stage bodies read (inputs, outputs, model, llm) keep their extra keys in
// inline maps so strict decoding does not reject them.
type Config struct {
	Version          string                 `yaml:"version"`
	Environment      string                 `yaml:"environment"`
	Metadata         Metadata               `yaml:"metadata"`
	Logging          Logging                `yaml:"logging"`
	CLI              CLI                    `yaml:"cli"`
	Pipeline         Pipeline               `yaml:"pipeline"`
	OverwritePolicy  string                 `yaml:"overwrite_policy"`
	Inputs           Inputs                 `yaml:"inputs"`
	Outputs          Outputs                `yaml:"outputs"`
	Model            Model                  `yaml:"model"`
	LLM              map[string]any         `yaml:"llm"`
	RollingWindows   map[string]any         `yaml:"rolling_windows"`
	Flags            Flags                  `yaml:"flags"`
	Metrics          Metrics                `yaml:"metrics"`
	Stages           map[string]StageConfig `yaml:"stages"`
	RequiredFeatures []string               `yaml:"required_features"`
	Paths            map[string]string      `yaml:"paths"`
}

type Metadata struct {
	Project         string   `yaml:"project"`
	Owner           string   `yaml:"owner"`
	Team            string   `yaml:"team"`
	Tags            []string `yaml:"tags"`
	ReleaseChannel  string   `yaml:"release_channel"`
	NotifyOnSuccess bool     `yaml:"notify_on_success"`
	NotifyOnFailure bool     `yaml:"notify_on_failure"`
	NotifyEmails    []string `yaml:"notify_emails"`
}

type Logging struct {
	Dir         string `yaml:"dir"`
	Level       string `yaml:"level"`
	MaxBytes    int    `yaml:"max_bytes"`
	BackupCount int    `yaml:"backup_count"`
	LogToStdout bool   `yaml:"log_to_stdout"`
	// Format selects the slog handler: "json", anything else is text.
	Format  string `yaml:"format"`
	DateFmt string `yaml:"datefmt"`
	Style   string `yaml:"style"`
}

// CLI holds defaults for flags that were not given on the command line.
type CLI struct {
	ConfigPath      string `yaml:"config_path"`
	Modules         string `yaml:"modules"`
	Concurrency     int    `yaml:"concurrency"`
	LogLevel        string `yaml:"log_level"`
	OverwritePolicy string `yaml:"overwrite_policy"`
	Debug           bool   `yaml:"debug"`
}

type Pipeline struct {
	Concurrency        int      `yaml:"concurrency"`
	ContinueOnFailure  bool     `yaml:"continue_on_failure"`
	FailFast           bool     `yaml:"fail_fast"`
	StrictSchema       bool     `yaml:"strict_schema"`
	RetryFailedModules bool     `yaml:"retry_failed_modules"`
	MaxRetryAttempts   int      `yaml:"max_retry_attempts"`
	RetryBackoff       Duration `yaml:"retry_backoff"`
	RetryBackoffCap    Duration `yaml:"retry_backoff_cap"`
	StageTimeout       Duration `yaml:"stage_timeout"`
	// StageDir is where external stage executables are looked up.
	StageDir string `yaml:"stage_dir"`
}

type StaticCSV struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type Inputs struct {
	Seasons    []int          `yaml:"seasons"`
	StaticCSVs []StaticCSV    `yaml:"static_csvs"`
	Extra      map[string]any `yaml:",inline"`
}

type Outputs struct {
	// Root holds one module_<letter> directory per stage.
	Root  string         `yaml:"root"`
	Dir   string         `yaml:"dir"`
	Extra map[string]any `yaml:",inline"`
}

type Model struct {
	Type  string         `yaml:"model_type"`
	Path  string         `yaml:"path"`
	Extra map[string]any `yaml:",inline"`
}

type Flags struct {
	UseCachedData      bool `yaml:"use_cached_data"`
	SavePredictions    bool `yaml:"save_predictions"`
	ValidateConfigKeys bool `yaml:"validate_config_keys"`
	ProfileModules     bool `yaml:"profile_modules"`
	DryRun             bool `yaml:"dry_run"`
	TimeEachModule     bool `yaml:"time_each_module"`
	MockLLM            bool `yaml:"mock_llm"`
}

// Metrics configures the Prometheus textfile written at the end of a run.
type Metrics struct {
	Textfile string `yaml:"textfile"`
}

// StageConfig tunes how one lettered stage is invoked.
//
//	stages:
//	  A:
//	    unit: fetch_static_csvs
//	    timeout: 10m
//	  C:
//	    command: [python, module_c.py]
type StageConfig struct {
	// Unit names a unit from the unit catalog to run in-process.
	Unit string `yaml:"unit"`
	// Command replaces the default external executable.
	Command []string `yaml:"command"`
	Timeout Duration `yaml:"timeout"`
}

// Duration is a time.Duration that unmarshals from YAML strings (e.g. "60s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Decode builds the typed Config from a tree and fills defaults. Unknown keys
// are rejected when pipeline.strict_schema is true.
func Decode(t *Tree) (*Config, error) {
	var cfg Config
	if t.Bool("pipeline.strict_schema") {
		data, err := t.Marshal()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
		}
	} else if err := t.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}
	cfg.applyDefaults(t)
	return &cfg, nil
}

// applyDefaults fills numeric settings only when their key is absent (or
// null), so an explicit 0 survives to validation. String settings also
// default when empty.
func (c *Config) applyDefaults(t *Tree) {
	missing := func(path string) bool {
		n, ok := t.Lookup(path)
		return !ok || isNull(n)
	}
	if missing("pipeline.concurrency") {
		c.Pipeline.Concurrency = 1
	}
	if c.OverwritePolicy == "" {
		c.OverwritePolicy = "error"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if missing("logging.max_bytes") {
		c.Logging.MaxBytes = 2_000_000
	}
	if missing("logging.backup_count") {
		c.Logging.BackupCount = 3
	}
	if c.Outputs.Root == "" {
		c.Outputs.Root = "outputs"
	}
	if missing("pipeline.retry_backoff") {
		c.Pipeline.RetryBackoff = Duration(time.Second)
	}
}

// Stage returns the stage settings for a module letter, zero when unset.
// Keys may be written in either case.
func (c *Config) Stage(letter string) StageConfig {
	if sc, ok := c.Stages[strings.ToUpper(letter)]; ok {
		return sc
	}
	return c.Stages[strings.ToLower(letter)]
}
