package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/photo3d/photo3d/handler/backend"
)

// Duration is a time.Duration that reads "90s", "5m" or "1d" from YAML and flags.
type Duration time.Duration

var _ pflag.Value = (*Duration)(nil)

func (d *Duration) Set(s string) error {
	v, err := str2duration.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) String() string { return (*time.Duration)(d).String() }

func (d *Duration) Type() string { return "duration" }

// UnmarshalYAML accepts a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"10m\": %w", node.Line, err)
	}
	if err := d.Set(s); err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, s, err)
	}
	return nil
}

// Config is the handler section of photo3d.yaml.
type Config struct {
	Timeout    Duration         `yaml:"timeout"` // 0 = no limit
	Preprocess PreprocessConfig `yaml:"preprocess"`
	Output     OutputConfig     `yaml:"output"`
	Backend    backend.Config   `yaml:"backend"`
}

// PreprocessConfig controls how a photo is prepared before the converter sees it.
type PreprocessConfig struct {
	MaxDimension  int      `yaml:"max_dimension"`  // longest side in pixels; 0 keeps the original size
	AcceptFormats []string `yaml:"accept_formats"` // formats the converter reads; empty accepts all
}

// OutputConfig names the converter's output file: <dir>/<stem><suffix><extension>.
type OutputConfig struct {
	Dir       string `yaml:"dir"`       // defaults to the photo's directory
	Suffix    string `yaml:"suffix"`    // appended to the photo's file stem
	Extension string `yaml:"extension"` // defaults to the photo's extension
}

// DefaultConfig returns the settings used when no config file is found.
func DefaultConfig() Config {
	return Config{
		Timeout: Duration(10 * time.Minute),
		Preprocess: PreprocessConfig{
			MaxDimension:  2048,
			AcceptFormats: []string{"jpeg", "png"},
		},
		Output: OutputConfig{
			Suffix: "_3d",
		},
		Backend: backend.DefaultConfig(),
	}
}

// Validate checks that all fields in the config are valid.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", time.Duration(c.Timeout))
	}
	if c.Preprocess.MaxDimension < 0 {
		return fmt.Errorf("preprocess.max_dimension must not be negative, got %d", c.Preprocess.MaxDimension)
	}
	for _, f := range c.Preprocess.AcceptFormats {
		if !knownFormats[f] {
			return fmt.Errorf("preprocess.accept_formats: unknown format %q; valid: %s", f, strings.Join(formatNames(), ", "))
		}
	}
	if c.Output.Dir == "" && c.Output.Suffix == "" && c.Output.Extension == "" {
		return fmt.Errorf("output: set dir, suffix or extension; the default output path would overwrite the photo")
	}
	if strings.ContainsRune(c.Output.Suffix, '/') {
		return fmt.Errorf("output.suffix must not contain a path separator, got %q", c.Output.Suffix)
	}
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	return nil
}
