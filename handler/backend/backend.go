// Package backend drives the external converter that turns a prepared photo
// into its 3D rendition. Two transports are supported: a local program (exec)
// and a remote conversion service (http).
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
)

const (
	TypeExec = "exec"
	TypeHTTP = "http"
)

var (
	// ErrNoOutput is returned when the converter reports success but the
	// output file does not exist.
	ErrNoOutput = errors.New("converter finished without writing output")
	// ErrInputTooLarge is returned when the prepared photo exceeds the upload limit.
	ErrInputTooLarge = errors.New("input exceeds upload limit")
)

// Job is one conversion request.
type Job struct {
	ID     string
	Photo  string // path the user supplied
	Input  string // path handed to the converter (may be a prepared copy of Photo)
	Output string
	Width  int
	Height int
}

// Result describes the artifact a converter produced.
type Result struct {
	Output string
	Bytes  int64
}

// Backend converts a single job.
type Backend interface {
	Name() string
	Convert(ctx context.Context, job Job) (Result, error)
}

// Config selects and configures a backend.
type Config struct {
	Type string     `yaml:"type"`
	Exec ExecConfig `yaml:"exec"`
	HTTP HTTPConfig `yaml:"http"`
}

// DefaultConfig runs the image-handler program found on PATH.
func DefaultConfig() Config {
	return Config{
		Type: TypeExec,
		Exec: ExecConfig{
			Command:   "image-handler",
			Args:      []string{"--photo", "{input}", "--output", "{output}"},
			LogOutput: true,
		},
		HTTP: HTTPConfig{
			APIKeyEnv: "PHOTO3D_API_KEY",
			MaxUpload: "20MB",
		},
	}
}

// Validate checks the section for the selected backend type.
func (c Config) Validate() error {
	switch c.Type {
	case TypeExec:
		return c.Exec.validate()
	case TypeHTTP:
		return c.HTTP.validate()
	default:
		return fmt.Errorf("unknown backend type %q; valid: exec, http", c.Type)
	}
}

// New builds the backend selected by cfg.Type.
func New(cfg Config) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeHTTP:
		return NewHTTP(cfg.HTTP)
	default:
		return NewExec(cfg.Exec)
	}
}

// resultAt stats the output a converter was expected to write.
func resultAt(path string) (Result, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Result{}, fmt.Errorf("%w: %s", ErrNoOutput, path)
	}
	if err != nil {
		return Result{}, fmt.Errorf("stat output %s: %w", path, err)
	}
	return Result{Output: path, Bytes: info.Size()}, nil
}
