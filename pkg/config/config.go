package config

import (
	"os"
	"strconv"
	"time"

	"echoloc-core/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// ChirpConfig describes the outgoing ultrasonic chirp. Immutable for the
// lifetime of a session.
type ChirpConfig struct {
	// FrequencyStartHz is the sweep start frequency in Hz.
	FrequencyStartHz float64 `json:"frequency_start_hz"`

	// FrequencyEndHz is the sweep end frequency in Hz. Must be above
	// FrequencyStartHz and at or below the Nyquist frequency.
	FrequencyEndHz float64 `json:"frequency_end_hz"`

	// DurationMs is the chirp duration in milliseconds.
	DurationMs int `json:"duration_ms"`

	// SampleRateHz is the audio sample rate in Hz.
	SampleRateHz int `json:"sample_rate_hz"`

	// MaxRangeMeters bounds the listening window per ping.
	MaxRangeMeters float64 `json:"max_range_meters"`
}

// SampleCount returns the number of samples the chirp occupies.
func (c ChirpConfig) SampleCount() int {
	return c.SampleRateHz * c.DurationMs / 1000
}

// Validate checks the structural invariants of the chirp configuration.
// Validation against device capabilities happens at session initialization.
func (c ChirpConfig) Validate() error {
	if c.FrequencyStartHz >= c.FrequencyEndHz {
		return errors.NewInvalidConfig("frequencyStart must be below frequencyEnd", map[string]interface{}{
			"frequency_start_hz": c.FrequencyStartHz,
			"frequency_end_hz":   c.FrequencyEndHz,
		})
	}
	if c.DurationMs <= 0 {
		return errors.NewInvalidConfig("durationMs must be positive", map[string]interface{}{
			"duration_ms": c.DurationMs,
		})
	}
	if c.SampleRateHz <= 0 {
		return errors.NewInvalidConfig("sampleRateHz must be positive", map[string]interface{}{
			"sample_rate_hz": c.SampleRateHz,
		})
	}
	if c.FrequencyEndHz > float64(c.SampleRateHz)/2 {
		return errors.NewInvalidConfig("frequencyEnd exceeds the Nyquist frequency", map[string]interface{}{
			"frequency_end_hz": c.FrequencyEndHz,
			"nyquist_hz":       float64(c.SampleRateHz) / 2,
		})
	}
	if c.MaxRangeMeters < 0 {
		return errors.NewInvalidConfig("maxRangeMeters must not be negative", map[string]interface{}{
			"max_range_meters": c.MaxRangeMeters,
		})
	}
	return nil
}

// DefaultChirpConfig returns the default chirp configuration: an 18-22 kHz
// sweep at 44.1 kHz, inaudible to most adults while staying well below
// Nyquist on commodity hardware.
func DefaultChirpConfig() ChirpConfig {
	return ChirpConfig{
		FrequencyStartHz: 18000,
		FrequencyEndHz:   22000,
		DurationMs:       100,
		SampleRateHz:     44100,
		MaxRangeMeters:   10.0,
	}
}

// AggregationConfig tunes how multiple pings fold into one measurement and
// when that measurement counts as reliable. Thresholds are configuration, not
// constants, so they can differ per environment preset.
type AggregationConfig struct {
	// WindowSize is the rolling window of pings per direction.
	WindowSize int `json:"window_size"`

	// MinSamples is the minimum ping count for a reliable verdict.
	MinSamples int `json:"min_samples"`

	// MaxStdDevMeters is the maximum distance spread for reliability.
	MaxStdDevMeters float64 `json:"max_std_dev_meters"`

	// MinConfidence is the minimum mean confidence for reliability.
	MinConfidence float64 `json:"min_confidence"`

	// AccuracyMarginMeters scales the confidence shortfall into the
	// conservative accuracy bound.
	AccuracyMarginMeters float64 `json:"accuracy_margin_meters"`
}

// DefaultAggregationConfig returns the default aggregation thresholds.
func DefaultAggregationConfig() AggregationConfig {
	return AggregationConfig{
		WindowSize:           5,
		MinSamples:           3,
		MaxStdDevMeters:      0.05,
		MinConfidence:        0.6,
		AccuracyMarginMeters: 0.1,
	}
}

// Validate checks the aggregation thresholds.
func (c AggregationConfig) Validate() error {
	if c.WindowSize <= 0 {
		return errors.NewInvalidConfig("aggregation window size must be positive")
	}
	if c.MinSamples <= 0 {
		return errors.NewInvalidConfig("aggregation minimum sample count must be positive")
	}
	if c.MaxStdDevMeters < 0 {
		return errors.NewInvalidConfig("aggregation stddev threshold must not be negative")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return errors.NewInvalidConfig("aggregation confidence threshold must be within [0,1]")
	}
	return nil
}

// Preset names selectable via ECHOLOC_PRESET.
const (
	PresetIndoor  = "indoor"
	PresetOutdoor = "outdoor"
)

// Preset returns the chirp and aggregation configuration for a named
// environment preset. Unknown names fall back to the indoor preset.
func Preset(name string) (ChirpConfig, AggregationConfig) {
	switch name {
	case PresetOutdoor:
		chirp := DefaultChirpConfig()
		chirp.MaxRangeMeters = 30.0

		agg := DefaultAggregationConfig()
		// Outdoor echoes are noisier; tolerate more spread, demand more pings.
		agg.MaxStdDevMeters = 0.15
		agg.MinSamples = 4
		agg.MinConfidence = 0.5
		return chirp, agg
	default:
		return DefaultChirpConfig(), DefaultAggregationConfig()
	}
}

// EngineConfig holds the physical and timing parameters of the ranging engine.
type EngineConfig struct {
	// SpeedOfSound in meters per second.
	SpeedOfSound float64 `json:"speed_of_sound_mps"`

	// MaxWindow caps the per-ping recording window to bound latency and
	// memory regardless of the requested range.
	MaxWindow time.Duration `json:"max_window"`

	// PeakAmplitude is the chirp peak as a fraction of full scale, kept low
	// to avoid clipping on playback.
	PeakAmplitude float64 `json:"peak_amplitude"`
}

// DefaultEngineConfig returns the default engine parameters: 343 m/s speed of
// sound (dry air, 20 °C) and a 500 ms window cap.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SpeedOfSound:  343.0,
		MaxWindow:     500 * time.Millisecond,
		PeakAmplitude: 0.1,
	}
}

// Validate checks the engine parameters.
func (c EngineConfig) Validate() error {
	if c.SpeedOfSound <= 0 {
		return errors.NewInvalidConfig("speed of sound must be positive")
	}
	if c.MaxWindow <= 0 {
		return errors.NewInvalidConfig("maximum recording window must be positive")
	}
	if c.PeakAmplitude <= 0 || c.PeakAmplitude > 1 {
		return errors.NewInvalidConfig("peak amplitude must be within (0,1]")
	}
	return nil
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	// Level is the logrus level name.
	Level string `json:"level"`

	// Format is "json" or "text".
	Format string `json:"format"`
}

// HTTPConfig holds the daemon's HTTP listener configuration.
type HTTPConfig struct {
	// Port serves /metrics, /ws and /healthz.
	Port int `json:"port"`

	// EnableMetrics toggles the Prometheus endpoint.
	EnableMetrics bool `json:"enable_metrics"`
}

// MessagingConfig holds the optional AMQP measurement publishing
// configuration. Publishing is disabled when URL is empty.
type MessagingConfig struct {
	URL       string `json:"url"`
	QueueName string `json:"queue_name"`
}

// Config is the complete daemon configuration.
type Config struct {
	Chirp       ChirpConfig       `json:"chirp"`
	Aggregation AggregationConfig `json:"aggregation"`
	Engine      EngineConfig      `json:"engine"`
	Logging     LoggingConfig     `json:"logging"`
	HTTP        HTTPConfig        `json:"http"`
	Messaging   MessagingConfig   `json:"messaging"`
}

// Load reads configuration from the environment, loading a .env file first
// when one is present, and validates the result.
func Load(logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded .env file")
	} else {
		logger.Debug("No .env file found, using environment variables only")
	}

	chirp, agg := Preset(getEnv("ECHOLOC_PRESET", PresetIndoor))

	cfg := &Config{
		Chirp: ChirpConfig{
			FrequencyStartHz: getEnvFloat("ECHOLOC_FREQ_START_HZ", chirp.FrequencyStartHz),
			FrequencyEndHz:   getEnvFloat("ECHOLOC_FREQ_END_HZ", chirp.FrequencyEndHz),
			DurationMs:       getEnvInt("ECHOLOC_CHIRP_DURATION_MS", chirp.DurationMs),
			SampleRateHz:     getEnvInt("ECHOLOC_SAMPLE_RATE_HZ", chirp.SampleRateHz),
			MaxRangeMeters:   getEnvFloat("ECHOLOC_MAX_RANGE_METERS", chirp.MaxRangeMeters),
		},
		Aggregation: AggregationConfig{
			WindowSize:           getEnvInt("ECHOLOC_AGG_WINDOW", agg.WindowSize),
			MinSamples:           getEnvInt("ECHOLOC_AGG_MIN_SAMPLES", agg.MinSamples),
			MaxStdDevMeters:      getEnvFloat("ECHOLOC_AGG_MAX_STDDEV_M", agg.MaxStdDevMeters),
			MinConfidence:        getEnvFloat("ECHOLOC_AGG_MIN_CONFIDENCE", agg.MinConfidence),
			AccuracyMarginMeters: getEnvFloat("ECHOLOC_AGG_ACCURACY_MARGIN_M", agg.AccuracyMarginMeters),
		},
		Engine: EngineConfig{
			SpeedOfSound:  getEnvFloat("ECHOLOC_SPEED_OF_SOUND_MPS", 343.0),
			MaxWindow:     getEnvDuration("ECHOLOC_MAX_WINDOW", 500*time.Millisecond),
			PeakAmplitude: getEnvFloat("ECHOLOC_PEAK_AMPLITUDE", 0.1),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		HTTP: HTTPConfig{
			Port:          getEnvInt("HTTP_PORT", 8080),
			EnableMetrics: getEnvBool("METRICS_ENABLED", true),
		},
		Messaging: MessagingConfig{
			URL:       getEnv("AMQP_URL", ""),
			QueueName: getEnv("AMQP_QUEUE_NAME", "echoloc.measurements"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"frequency_start_hz": cfg.Chirp.FrequencyStartHz,
		"frequency_end_hz":   cfg.Chirp.FrequencyEndHz,
		"sample_rate_hz":     cfg.Chirp.SampleRateHz,
		"max_range_meters":   cfg.Chirp.MaxRangeMeters,
		"agg_window":         cfg.Aggregation.WindowSize,
	}).Info("Configuration loaded")

	return cfg, nil
}

// Validate checks all configuration sections.
func (c *Config) Validate() error {
	if err := c.Chirp.Validate(); err != nil {
		return err
	}
	if err := c.Aggregation.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.NewInvalidConfig("HTTP port out of range", map[string]interface{}{
			"port": c.HTTP.Port,
		})
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
