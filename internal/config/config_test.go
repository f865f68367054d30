package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/travelcrawl/internal/capture"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "travelcrawl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://www.viajes.carrefour.es", cfg.Origin)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 1500*time.Millisecond, cfg.Settle.Quiet)
	assert.Equal(t, "links.json", cfg.Checkpoints.Links)

	offers, err := cfg.Profile(cfg.Stages.Seed.Profile)
	require.NoError(t, err)
	require.NotNil(t, offers.Schema.Placeholder)
	assert.Equal(t, "No disponible", *offers.Schema.Placeholder)
	assert.Equal(t, capture.Contains, offers.Capture[0].Match)

	detail, err := cfg.Profile(cfg.Stages.Discover.Profile)
	require.NoError(t, err)
	assert.Nil(t, detail.Schema.Placeholder)
	assert.Equal(t, capture.Prefix, detail.Capture[0].Match)
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
workers: 3
settle:
  quiet: 500ms
seeds:
  - https://www.viajes.carrefour.es/vuelo-hotel/caribe
profiles:
  flights:
    capture:
      - value: https://cdn.example/
        match: prefix
    schema:
      fields:
        - name: legs
          selector: .leg
          repeat: true
          fields:
            - name: from
              selector: .from
stages:
  discover:
    profile: flights
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Settle.Quiet)
	assert.Equal(t, 10*time.Second, cfg.Settle.Ceiling, "unset keys keep defaults")
	assert.Equal(t, []string{"https://www.viajes.carrefour.es/vuelo-hotel/caribe"}, cfg.Seeds)
	assert.Contains(t, cfg.Profiles, "vuelo-hotel-offers", "profiles merge by name")
	assert.Equal(t, "flights", cfg.Stages.Discover.Profile)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadFileEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Default().Seeds, cfg.Seeds)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"relative origin", "origin: /vuelo-hotel\n"},
		{"zero workers", "workers: 0\n"},
		{"ceiling below quiet", "settle:\n  quiet: 5s\n  ceiling: 1s\n"},
		{"unknown stage profile", "stages:\n  seed:\n    profile: nope\n"},
		{"bad selector", "profiles:\n  broken:\n    schema:\n      fields:\n        - name: x\n          selector: 'div[['\n"},
		{"bad match mode", "profiles:\n  broken:\n    capture:\n      - value: x\n        match: regex\n"},
		{"relative seed", "seeds:\n  - vuelo-hotel\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}
