package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photo3d/photo3d/handler/backend"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo3d.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_EmptyPath_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EmptyFile_Defaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestLoadConfig_PartialFile_KeepsOtherDefaults(t *testing.T) {
	// GIVEN a file that only switches the backend to http
	path := writeConfig(t, `
version: "1"
handler:
  backend:
    type: http
    http:
      url: http://gpu-box:8080/v1/convert
`)

	// WHEN loaded
	cfg, err := loadConfig(path)
	require.NoError(t, err)

	// THEN the override applies and untouched fields keep their defaults
	assert.Equal(t, backend.TypeHTTP, cfg.Handler.Backend.Type)
	assert.Equal(t, "http://gpu-box:8080/v1/convert", cfg.Handler.Backend.HTTP.URL)
	assert.Equal(t, "20MB", cfg.Handler.Backend.HTTP.MaxUpload)
	assert.Equal(t, 10*time.Minute, time.Duration(cfg.Handler.Timeout))
	assert.Equal(t, "_3d", cfg.Handler.Output.Suffix)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_UnknownField_Error(t *testing.T) {
	// Typos must cause errors rather than silently falling back to defaults.
	_, err := loadConfig(writeConfig(t, "handler:\n  preprocess:\n    max_dimensions: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_dimensions")
}

func TestLoadConfig_MissingFile_Error(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestConfigValidate_Errors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Version = "2"
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Accelerator.CUDAVisibleDevices = "first"
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Handler.Backend.Exec.Command = ""
	assert.Error(t, cfg.Validate())
}

func TestExampleConfig_LoadsAndValidates(t *testing.T) {
	// Skip if the example config is not available
	path := "../photo3d.example.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skip("photo3d.example.yaml not found, skipping")
	}

	cfg, err := loadConfig(path)

	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestResolveConfigPath_ExplicitOverrideTakesPrecedence(t *testing.T) {
	assert.Equal(t, "/explicit/photo3d.yaml", resolveConfigPath("/explicit/photo3d.yaml", t.TempDir()))
}

func TestResolveConfigPath_WorkingDirBeforeHome(t *testing.T) {
	// GIVEN both a ./photo3d.yaml and a home config
	work := t.TempDir()
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(work, configFileName), nil, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(home, homeConfigDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, homeConfigDir, homeConfigFile), nil, 0o644))

	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(work))
	defer func() {
		if err := os.Chdir(origDir); err != nil {
			t.Logf("warning: could not restore working directory: %v", err)
		}
	}()

	// THEN the working directory file wins
	assert.Equal(t, configFileName, resolveConfigPath("", home))

	// AND without it the home config is used
	require.NoError(t, os.Remove(configFileName))
	assert.Equal(t, filepath.Join(home, homeConfigDir, homeConfigFile), resolveConfigPath("", home))

	// AND with neither, defaults apply
	assert.Equal(t, "", resolveConfigPath("", t.TempDir()))
	assert.Equal(t, "", resolveConfigPath("", ""))
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), ".env")))
	assert.NoError(t, loadDotEnv(""))
}

func TestLoadDotEnv_SetsOnlyUnsetVariables(t *testing.T) {
	// GIVEN one variable already set and one absent
	t.Setenv("PHOTO3D_DOTENV_SET", "from-shell")
	t.Setenv("PHOTO3D_DOTENV_NEW", "placeholder")
	require.NoError(t, os.Unsetenv("PHOTO3D_DOTENV_NEW"))
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PHOTO3D_DOTENV_SET=from-file\nPHOTO3D_DOTENV_NEW=from-file\n"), 0o644))

	// WHEN the file is loaded
	require.NoError(t, loadDotEnv(path))

	// THEN the shell wins and the absent variable is filled in
	assert.Equal(t, "from-shell", os.Getenv("PHOTO3D_DOTENV_SET"))
	assert.Equal(t, "from-file", os.Getenv("PHOTO3D_DOTENV_NEW"))
}
