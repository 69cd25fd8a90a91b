package backend

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidate_RejectsBadSections(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown type", Config{Type: "grpc"}},
		{"empty type", Config{}},
		{"exec without command", Config{Type: TypeExec, Exec: ExecConfig{Command: "  "}}},
		{"http without url", Config{Type: TypeHTTP}},
		{"http bad size", Config{Type: TypeHTTP, HTTP: HTTPConfig{URL: "http://x", MaxUpload: "lots"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.cfg.Validate())
		})
	}
}

func TestNew_SelectsBackendByType(t *testing.T) {
	cfg := DefaultConfig()

	b, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, TypeExec, b.Name())

	cfg.Type = TypeHTTP
	cfg.HTTP.URL = "http://localhost:1/convert"
	b, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, TypeHTTP, b.Name())
}

func TestResultAt_MissingOutput_ErrNoOutput(t *testing.T) {
	_, err := resultAt(filepath.Join(t.TempDir(), "missing.png"))
	assert.True(t, errors.Is(err, ErrNoOutput), "got %v", err)
}

func TestResultAt_ReportsSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o644))

	res, err := resultAt(path)
	require.NoError(t, err)
	assert.Equal(t, Result{Output: path, Bytes: 5}, res)
}
