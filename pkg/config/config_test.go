package config

import (
	stderrors "errors"
	"testing"
	"time"

	"echoloc-core/pkg/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChirpConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ChirpConfig)
		wantErr bool
	}{
		{"default is valid", func(c *ChirpConfig) {}, false},
		{"inverted sweep", func(c *ChirpConfig) { c.FrequencyStartHz = 22000; c.FrequencyEndHz = 18000 }, true},
		{"equal frequencies", func(c *ChirpConfig) { c.FrequencyStartHz = c.FrequencyEndHz }, true},
		{"zero duration", func(c *ChirpConfig) { c.DurationMs = 0 }, true},
		{"negative duration", func(c *ChirpConfig) { c.DurationMs = -5 }, true},
		{"zero sample rate", func(c *ChirpConfig) { c.SampleRateHz = 0 }, true},
		{"nyquist violation", func(c *ChirpConfig) { c.SampleRateHz = 32000 }, true},
		{"negative range", func(c *ChirpConfig) { c.MaxRangeMeters = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultChirpConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, stderrors.Is(err, errors.ErrInvalidConfig))
				assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChirpConfigSampleCount(t *testing.T) {
	cfg := DefaultChirpConfig()
	assert.Equal(t, 4410, cfg.SampleCount())

	cfg.SampleRateHz = 48000
	cfg.DurationMs = 50
	assert.Equal(t, 2400, cfg.SampleCount())
}

func TestPresets(t *testing.T) {
	indoorChirp, indoorAgg := Preset(PresetIndoor)
	assert.Equal(t, DefaultChirpConfig(), indoorChirp)
	assert.Equal(t, DefaultAggregationConfig(), indoorAgg)

	outdoorChirp, outdoorAgg := Preset(PresetOutdoor)
	assert.Greater(t, outdoorChirp.MaxRangeMeters, indoorChirp.MaxRangeMeters)
	assert.Greater(t, outdoorAgg.MaxStdDevMeters, indoorAgg.MaxStdDevMeters)
	assert.NoError(t, outdoorChirp.Validate())
	assert.NoError(t, outdoorAgg.Validate())

	// Unknown names fall back to indoor.
	fallbackChirp, _ := Preset("submarine")
	assert.Equal(t, indoorChirp, fallbackChirp)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ECHOLOC_FREQ_START_HZ", "19000")
	t.Setenv("ECHOLOC_SAMPLE_RATE_HZ", "48000")
	t.Setenv("ECHOLOC_MAX_WINDOW", "250ms")
	t.Setenv("LOG_LEVEL", "debug")

	logger := logrus.New()
	cfg, err := Load(logger)
	require.NoError(t, err)

	assert.Equal(t, 19000.0, cfg.Chirp.FrequencyStartHz)
	assert.Equal(t, 48000, cfg.Chirp.SampleRateHz)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.MaxWindow)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	// End frequency above Nyquist for the configured rate.
	t.Setenv("ECHOLOC_FREQ_END_HZ", "30000")
	t.Setenv("ECHOLOC_SAMPLE_RATE_HZ", "44100")

	_, err := Load(logrus.New())
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestEngineConfigValidate(t *testing.T) {
	cfg := DefaultEngineConfig()
	assert.NoError(t, cfg.Validate())

	cfg.PeakAmplitude = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultEngineConfig()
	cfg.SpeedOfSound = 0
	assert.Error(t, cfg.Validate())
}

func TestAggregationConfigValidate(t *testing.T) {
	cfg := DefaultAggregationConfig()
	assert.NoError(t, cfg.Validate())

	cfg.MinConfidence = 1.2
	assert.Error(t, cfg.Validate())

	cfg = DefaultAggregationConfig()
	cfg.WindowSize = 0
	assert.Error(t, cfg.Validate())
}
