package cmd

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/photo3d/photo3d/handler"
	"github.com/photo3d/photo3d/handler/trace"
)

// fakeHandler counts Make3DImage calls.
type fakeHandler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeHandler) Make3DImage(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeHandler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingBuilder is a factoryBuilder that records what the CLI asked for.
type recordingBuilder struct {
	mu       sync.Mutex
	built    int
	cfg      handler.Config
	photos   []string
	handler  *fakeHandler
	buildErr error
	newErr   error
}

func newRecordingBuilder() *recordingBuilder {
	return &recordingBuilder{handler: &fakeHandler{}}
}

func (r *recordingBuilder) build(cfg handler.Config, tr *trace.Trace) (handler.Factory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.built++
	r.cfg = cfg
	if r.buildErr != nil {
		return nil, r.buildErr
	}
	return func(photo string) (handler.ImageHandler, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.photos = append(r.photos, photo)
		if r.newErr != nil {
			return nil, r.newErr
		}
		return r.handler, nil
	}, nil
}

func (r *recordingBuilder) Photos() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.photos...)
}

// runRoot executes a fresh root command with an isolated HOME and no env file,
// returning everything written to stdout/stderr.
func runRoot(t *testing.T, rb *recordingBuilder, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	root := newRootCmd(rb.build)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	err := execute(context.Background(), root, append([]string{"--env-file", ""}, args...))
	return out.String(), err
}
