package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "artatlas-venue-bot/0.1", cfg.Crawler.UserAgent)
	require.True(t, cfg.Crawler.RespectRobots)
	require.Equal(t, 64, cfg.Crawler.QueueDepth)
	require.False(t, cfg.Headless.Enabled)
	require.Equal(t, 2, cfg.Pipeline.MaxRetries)
	require.Equal(t, "gpt-4o-mini", cfg.Extraction.Model)
	require.Equal(t, "info", cfg.Logging.Level)
	require.InDelta(t, 0.88, cfg.Similarity.EventThreshold, 1e-9)
	require.Empty(t, cfg.DB.DSN)
	require.Equal(t, 120*time.Second, cfg.StepTimeout())
	require.Equal(t, 15*time.Second, cfg.FetchTimeout())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
crawler:
  timeout_seconds: 5
pipeline:
  discover_limit: 12
recrawl:
  overrides_hours:
    event: 1
similarity:
  event_threshold: 0.95
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 5*time.Second, cfg.FetchTimeout())
	require.Equal(t, 12, cfg.Pipeline.DiscoverLimit)
	require.Equal(t, map[string]int{"event": 1}, cfg.Recrawl.OverridesHours)
	require.InDelta(t, 0.95, cfg.Similarity.EventThreshold, 1e-9)
	// Untouched keys keep their defaults.
	require.Equal(t, 2, cfg.Pipeline.MaxRetries)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate(), "auth without a key")

	cfg = base()
	cfg.Headless.Enabled = true
	cfg.Headless.MaxParallel = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Similarity.EventThreshold = 1.5
	require.Error(t, cfg.Validate())
}
