package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 0.7, cfg.Campaign.ConfidenceThreshold)
	assert.Equal(t, 2, cfg.Campaign.MaxFeedbackLoops)
	assert.Equal(t, 4, cfg.Campaign.ContentWorkers)
	assert.Equal(t, 5, cfg.Campaign.AnalysisWindow)
	assert.True(t, cfg.Dispatch.DryRun, "defaults must never send live mail")
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, "data", cfg.Storage.DataDir)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Campaign, cfg.Campaign)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leadflow.yaml")
	body := `
campaign:
  confidence_threshold: 0.5
  max_feedback_loops: 1
dispatch:
  dry_run: false
  rate_per_minute: 30
smtp:
  host: mail.example.com
  from: outreach@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Campaign.ConfidenceThreshold)
	assert.Equal(t, 1, cfg.Campaign.MaxFeedbackLoops)
	assert.False(t, cfg.Dispatch.DryRun)
	assert.Equal(t, 30, cfg.Dispatch.RatePerMinute)
	assert.Equal(t, "mail.example.com", cfg.SMTP.Host)
	// Untouched sections keep defaults.
	assert.Equal(t, 4, cfg.Campaign.ContentWorkers)
	assert.Equal(t, "INBOX", cfg.IMAP.Mailbox)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("campaign: [oops"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "leadflow.yaml")

	cfg := DefaultConfig()
	cfg.Campaign.MaxFeedbackLoops = 7
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Campaign.MaxFeedbackLoops)
}

func TestDurationGetters(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 120*time.Second, cfg.LLMTimeout())
	assert.Equal(t, time.Second, cfg.RetryBase())
	assert.Equal(t, 30*time.Second, cfg.RetryMax())

	cfg.Dispatch.RetryBase = "250ms"
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBase())

	cfg.Dispatch.RetryMax = "garbage"
	assert.Equal(t, 30*time.Second, cfg.RetryMax(), "unparseable duration falls back")
}

func TestPathHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = "/var/lib/leadflow"

	assert.Equal(t, "/var/lib/leadflow/campaigns", cfg.CampaignsDir())
	assert.Equal(t, "/var/lib/leadflow/memory/entries.jsonl", cfg.MemoryPath())
	assert.Equal(t, "/var/lib/leadflow/uploads", cfg.UploadsDir())
	assert.Equal(t, "/var/lib/leadflow/engagement.db", cfg.EngagementDB())
}

func TestValidate(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		cfg := DefaultConfig()
		require.Error(t, cfg.Validate())

		cfg.LLM.APIKey = "k"
		require.NoError(t, cfg.Validate())
	})

	t.Run("dry run skips SMTP checks", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.APIKey = "k"
		cfg.Dispatch.DryRun = true
		require.NoError(t, cfg.Validate())
	})

	t.Run("live run needs transport", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.APIKey = "k"
		cfg.Dispatch.DryRun = false
		require.Error(t, cfg.Validate())

		cfg.SMTP.Host = "mail.example.com"
		require.Error(t, cfg.Validate())

		cfg.SMTP.Username = "u"
		cfg.SMTP.Password = "p"
		cfg.SMTP.From = "outreach@example.com"
		require.NoError(t, cfg.Validate())
	})

	t.Run("bounds", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.APIKey = "k"

		cfg.Campaign.ConfidenceThreshold = 1.2
		require.Error(t, cfg.Validate())
		cfg.Campaign.ConfidenceThreshold = 0.7

		cfg.Campaign.MaxFeedbackLoops = -1
		require.Error(t, cfg.Validate())
		cfg.Campaign.MaxFeedbackLoops = 2

		cfg.Dispatch.MaxAttempts = 0
		require.Error(t, cfg.Validate())
		cfg.Dispatch.MaxAttempts = 3

		cfg.Dispatch.RatePerMinute = 0
		require.Error(t, cfg.Validate())
	})
}
