package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/photo3d/photo3d/accel"
)

const (
	// stderrTail bounds how much converter stderr is quoted in an error.
	stderrTail = 512
	// waitDelay caps how long output pipes may outlive a killed converter.
	waitDelay = 2 * time.Second
)

// ExecConfig runs a local converter program once per job.
// Args may reference {input}, {output}, {photo}, {id}, {width} and {height}.
type ExecConfig struct {
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Dir       string            `yaml:"dir"`
	Env       map[string]string `yaml:"env"`
	LogOutput bool              `yaml:"log_output"`
}

func (c ExecConfig) validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("exec backend: command must not be empty")
	}
	return nil
}

// Exec is a Backend that shells out to a converter program.
type Exec struct {
	cfg ExecConfig
}

// NewExec creates an exec backend.
func NewExec(cfg ExecConfig) (*Exec, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Exec{cfg: cfg}, nil
}

func (e *Exec) Name() string { return TypeExec }

// expandArgs substitutes job placeholders into the configured arguments.
func expandArgs(args []string, job Job) []string {
	r := strings.NewReplacer(
		"{input}", job.Input,
		"{output}", job.Output,
		"{photo}", job.Photo,
		"{id}", job.ID,
		"{width}", strconv.Itoa(job.Width),
		"{height}", strconv.Itoa(job.Height),
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// Convert runs the converter and waits for it to exit. The child inherits
// the accelerator environment plus the configured overrides.
func (e *Exec) Convert(ctx context.Context, job Job) (res Result, err error) {
	cmd := exec.CommandContext(ctx, e.cfg.Command, expandArgs(e.cfg.Args, job)...)
	cmd.Dir = e.cfg.Dir
	cmd.Env = accel.Environ(e.cfg.Env)
	cmd.WaitDelay = waitDelay

	stderr := &tailBuffer{limit: stderrTail}
	if e.cfg.LogOutput {
		entry := logrus.WithFields(logrus.Fields{"backend": TypeExec, "job": job.ID})
		stdoutW := entry.WriterLevel(logrus.InfoLevel)
		stderrW := entry.WriterLevel(logrus.WarnLevel)
		defer func() {
			err = multierr.Combine(err, stdoutW.Close(), stderrW.Close())
		}()
		cmd.Stdout = stdoutW
		cmd.Stderr = io.MultiWriter(stderrW, stderr)
	} else {
		cmd.Stderr = stderr
	}

	logrus.WithFields(logrus.Fields{"backend": TypeExec, "job": job.ID}).
		Debugf("running %s %s", e.cfg.Command, strings.Join(cmd.Args[1:], " "))

	if runErr := cmd.Run(); runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("converter %s interrupted: %w", e.cfg.Command, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return Result{}, fmt.Errorf("converter %s exited with status %d: %w%s",
				e.cfg.Command, exitErr.ExitCode(), runErr, tail(stderr.Bytes()))
		}
		return Result{}, fmt.Errorf("run converter %s: %w", e.cfg.Command, runErr)
	}
	return resultAt(job.Output)
}

// tailBuffer is an io.Writer that keeps only the last limit bytes written.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= t.limit {
		t.buf = append(t.buf[:0], p[n-t.limit:]...)
		return n, nil
	}
	if over := len(t.buf) + n - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) Bytes() []byte { return t.buf }

// tail formats the end of the converter's stderr for an error message.
func tail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return ""
	}
	if len(b) > stderrTail {
		b = b[len(b)-stderrTail:]
	}
	return "\n" + string(b)
}
