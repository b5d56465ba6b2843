package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Empty(t, cfg.Classifier.APIURL)
	assert.Equal(t, 30*time.Second, cfg.Classifier.ReadTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
database:
  driver: bolt
  path: /tmp/mod.db
logging:
  level: debug
  format: console
classifier:
  api_url: http://classifier:8000/classify
  flag_threshold: 0.9
courses:
  "course-v1:edX+DemoX+2024": edX
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "bolt", cfg.Database.Driver)
	assert.Equal(t, "/tmp/mod.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "http://classifier:8000/classify", cfg.Classifier.APIURL)
	assert.InDelta(t, 0.9, cfg.Classifier.FlagThreshold, 1e-9)
	assert.Equal(t, "edX", cfg.Courses["course-v1:edX+DemoX+2024"])
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: postgres\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
