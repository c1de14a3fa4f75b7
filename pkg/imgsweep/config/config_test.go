package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	t.Setenv("XDG_CONFIG_HOME", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TmpDir != DefaultTmpDir() {
		t.Errorf("TmpDir = %q, want %q", cfg.TmpDir, DefaultTmpDir())
	}

	if !cfg.Backup {
		t.Error("Backup = false, want true")
	}

	if !cfg.RestoreOnRegression {
		t.Error("RestoreOnRegression = false, want true")
	}

	if cfg.TimeMarker != filepath.Join(cfg.TmpDir, MarkerFileName) {
		t.Errorf("TimeMarker = %q, want marker inside tmp dir", cfg.TimeMarker)
	}

	if cfg.Output != DefaultOutput {
		t.Errorf("Output = %q, want %q", cfg.Output, DefaultOutput)
	}

	if cfg.Remote.Quality != DefaultRemoteQuality {
		t.Errorf("Remote.Quality = %d, want %d", cfg.Remote.Quality, DefaultRemoteQuality)
	}

	if cfg.Remote.Exif {
		t.Error("Remote.Exif = true, want false")
	}

	if cfg.Remote.MaxSize != DefaultRemoteMaxSize {
		t.Errorf("Remote.MaxSize = %q, want %q", cfg.Remote.MaxSize, DefaultRemoteMaxSize)
	}

	if cfg.Cache.Enabled {
		t.Error("Cache.Enabled = true, want false")
	}

	if !cfg.History.Enabled {
		t.Error("History.Enabled = false, want true")
	}

	if cfg.History.RetentionDays != DefaultRetentionDays {
		t.Errorf("History.RetentionDays = %d, want %d", cfg.History.RetentionDays, DefaultRetentionDays)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_FromFile(t *testing.T) {
	tempDir := t.TempDir()
	configDir := filepath.Join(tempDir, ".config", "imgsweep")
	require.NoError(t, os.MkdirAll(configDir, 0o755))

	configContent := `tmp_dir: /var/tmp/imgs
exclude:
  - /cache/
  - thumbs
backup: false
restore_on_regression: false
time_marker: /var/tmp/imgs/marker
output: json
remote:
  quality: 70
  exif: true
  max_size: 2MB
history:
  enabled: false
  retention_days: 7
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(configContent), 0o644))

	t.Setenv("HOME", tempDir)
	t.Setenv("XDG_CONFIG_HOME", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/tmp/imgs", cfg.TmpDir)
	assert.Equal(t, []string{"/cache/", "thumbs"}, cfg.Exclude)
	assert.False(t, cfg.Backup)
	assert.False(t, cfg.RestoreOnRegression)
	assert.Equal(t, "/var/tmp/imgs/marker", cfg.TimeMarker)
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, 70, cfg.Remote.Quality)
	assert.True(t, cfg.Remote.Exif)
	assert.Equal(t, "2MB", cfg.Remote.MaxSize)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, 7, cfg.History.RetentionDays)
}

func TestLoad_XDGConfigHome(t *testing.T) {
	tempDir := t.TempDir()
	xdgConfigDir := filepath.Join(tempDir, "xdg-config", "imgsweep")
	if err := os.MkdirAll(xdgConfigDir, 0o755); err != nil {
		t.Fatalf("failed to create XDG config dir: %v", err)
	}

	if err := os.WriteFile(filepath.Join(xdgConfigDir, "config.yaml"), []byte("output: plain"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("HOME", tempDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tempDir, "xdg-config"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Output != "plain" {
		t.Errorf("Output = %q, want %q", cfg.Output, "plain")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("IMGSWEEP_TMP_DIR", filepath.Join(tempDir, "scratch"))
	t.Setenv("IMGSWEEP_REMOTE_QUALITY", "55")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TmpDir != filepath.Join(tempDir, "scratch") {
		t.Errorf("TmpDir = %q, want %q", cfg.TmpDir, filepath.Join(tempDir, "scratch"))
	}

	if cfg.TimeMarker != filepath.Join(tempDir, "scratch", MarkerFileName) {
		t.Errorf("TimeMarker = %q, want marker under overridden tmp dir", cfg.TimeMarker)
	}

	if cfg.Remote.Quality != 55 {
		t.Errorf("Remote.Quality = %d, want 55", cfg.Remote.Quality)
	}
}

func TestFromViper_ExpandsHome(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)

	v := viper.New()
	SetDefaults(v)
	v.Set("tmp_dir", "~/imgs-tmp")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tempDir, "imgs-tmp"), cfg.TmpDir)
}

func TestConfigDir(t *testing.T) {
	t.Run("uses XDG_CONFIG_HOME when set", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")

		dir, err := ConfigDir()
		if err != nil {
			t.Fatalf("ConfigDir() error = %v", err)
		}

		if dir != "/custom/config/imgsweep" {
			t.Errorf("ConfigDir() = %q, want %q", dir, "/custom/config/imgsweep")
		}
	})

	t.Run("uses HOME/.config when XDG_CONFIG_HOME not set", func(t *testing.T) {
		tempDir := t.TempDir()
		t.Setenv("HOME", tempDir)
		t.Setenv("XDG_CONFIG_HOME", "")

		dir, err := ConfigDir()
		if err != nil {
			t.Fatalf("ConfigDir() error = %v", err)
		}

		expected := filepath.Join(tempDir, ".config", "imgsweep")
		if dir != expected {
			t.Errorf("ConfigDir() = %q, want %q", dir, expected)
		}
	})
}

func TestWriteDefault(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	t.Setenv("XDG_CONFIG_HOME", "")

	require.NoError(t, WriteDefault())

	configPath := filepath.Join(tempDir, ".config", "imgsweep", "config.yaml")
	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "restore_on_regression: true")
	assert.Contains(t, string(content), "quality: 92")

	// The written template must round-trip through Load.
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultRemoteQuality, cfg.Remote.Quality)

	// A second call leaves an edited file alone.
	require.NoError(t, os.WriteFile(configPath, []byte("output: plain\n"), 0o644))
	require.NoError(t, WriteDefault())
	content, err = os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "output: plain\n", string(content))
}

func TestExpandPath(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)

	tests := []struct {
		input string
		want  string
	}{
		{"~/foo", filepath.Join(tempDir, "foo")},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
		{"", ""},
	}

	for _, tt := range tests {
		got, err := ExpandPath(tt.input)
		if err != nil {
			t.Fatalf("ExpandPath(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
