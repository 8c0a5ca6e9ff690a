package session

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"echoloc-core/pkg/audio"
	"echoloc-core/pkg/config"
	"echoloc-core/pkg/errors"
	"echoloc-core/pkg/metrics"
	"echoloc-core/pkg/sonar"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State is a session lifecycle state. Sessions move forward only; the sole
// way back is a fresh StartSession (or Initialize after an error).
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateReady         State = "ready"
	StateActive        State = "active"
	StateCompleted     State = "completed"
	StateError         State = "error"
)

// Frequency band acceptable for ranging regardless of hardware: below 100 Hz
// the chirp is unplayable on mobile speakers, above 24 kHz unsamplable at
// common rates.
const (
	MinFrequencyHz = 100.0
	MaxFrequencyHz = 24000.0
)

// Session is the mutable aggregate owned exclusively by the Manager. No other
// component mutates it.
type Session struct {
	ID           string             `json:"id"`
	State        State              `json:"state"`
	StartTime    time.Time          `json:"start_time"`
	PingCount    int                `json:"ping_count"`
	Config       config.ChirpConfig `json:"config"`
	Capabilities audio.Capabilities `json:"capabilities"`
}

// StartInfo is returned by StartSession.
type StartInfo struct {
	SessionID    string             `json:"session_id"`
	StartTime    time.Time          `json:"start_time"`
	State        State              `json:"state"`
	Capabilities audio.Capabilities `json:"capabilities"`
}

// Summary is returned by StopSession.
type Summary struct {
	SessionID  string        `json:"session_id"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	TotalPings int           `json:"total_pings"`
	State      State         `json:"state"`
}

// Observer receives session lifecycle and ping events. All callbacks are
// invoked synchronously from the manager; implementations must not block.
type Observer interface {
	SessionStarted(info StartInfo)
	PingCompleted(sessionID string, result *sonar.PingResult)
	SessionStopped(summary Summary)
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver attaches a lifecycle observer (the realtime event stream).
func WithObserver(observer Observer) Option {
	return func(m *Manager) {
		m.observer = observer
	}
}

// Manager owns the session state machine. It validates configuration against
// device capabilities, serializes pings (one chirp/echo pair can occupy the
// audio hardware at a time) and translates hardware failures into the error
// state for the caller to inspect and restart.
type Manager struct {
	logger    *logrus.Logger
	provider  audio.Provider
	engineCfg config.EngineConfig
	observer  Observer

	mu          sync.Mutex
	state       State
	initialized bool
	chirpCfg    config.ChirpConfig
	caps        audio.Capabilities
	engine      *sonar.Engine
	current     *Session

	pingInFlight bool
	cancelPing   context.CancelFunc
}

// NewManager creates a session manager over the given audio provider.
func NewManager(logger *logrus.Logger, provider audio.Provider, engineCfg config.EngineConfig, opts ...Option) *Manager {
	m := &Manager{
		logger:    logger,
		provider:  provider,
		engineCfg: engineCfg,
		state:     StateUninitialized,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsAvailable reports whether audio input and output devices are present and
// the engine is initialized.
func (m *Manager) IsAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized && m.provider.Available()
}

// GetCapabilities returns the capability snapshot queried at initialization.
func (m *Manager) GetCapabilities() (audio.Capabilities, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return audio.Capabilities{}, errors.NewNotInitialized("capabilities are queried at initialization; call Initialize first")
	}
	return m.caps, nil
}

// ValidateConfiguration reports whether a configuration would be accepted by
// Initialize, so UI layers can pre-validate user-adjustable settings. Uses
// the cached capability snapshot when one exists.
func (m *Manager) ValidateConfiguration(cfg config.ChirpConfig) bool {
	if cfg.Validate() != nil {
		return false
	}

	m.mu.Lock()
	caps := m.caps
	initialized := m.initialized
	m.mu.Unlock()

	if initialized {
		return m.checkAgainstCapabilities(cfg, caps) == nil
	}
	return m.checkFrequencyBand(cfg) == nil
}

// Initialize validates the configuration against device capabilities and
// readies the engine. Idempotent: calling again while initialized revalidates
// the (possibly new) configuration and returns the cached capabilities
// without re-querying the hardware.
func (m *Manager) Initialize(ctx context.Context, cfg config.ChirpConfig) (audio.Capabilities, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateActive || m.state == StateReady {
		return audio.Capabilities{}, errors.NewInvalidSession(m.current.ID).
			WithField("reason", "cannot re-initialize while a session is active")
	}

	if err := cfg.Validate(); err != nil {
		return audio.Capabilities{}, err
	}

	if !m.initialized {
		caps, err := m.provider.Capabilities()
		if err != nil {
			m.state = StateError
			metrics.RecordHardwareFailure()
			return audio.Capabilities{}, errors.NewHardwareUnavailable(err)
		}
		m.caps = caps
	}

	if err := m.checkAgainstCapabilities(cfg, m.caps); err != nil {
		return audio.Capabilities{}, err
	}

	engine, err := sonar.NewEngine(m.logger, m.provider, cfg, m.engineCfg)
	if err != nil {
		return audio.Capabilities{}, err
	}

	m.chirpCfg = cfg
	m.engine = engine
	m.initialized = true
	m.state = StateInitialized

	m.logger.WithFields(logrus.Fields{
		"frequency_start_hz": cfg.FrequencyStartHz,
		"frequency_end_hz":   cfg.FrequencyEndHz,
		"sample_rate_hz":     cfg.SampleRateHz,
	}).Info("Ranging engine initialized")

	return m.caps, nil
}

// StartSession begins a new ranging session: generates a session ID, resets
// the ping count, records the start time and acquires the audio hardware.
func (m *Manager) StartSession(ctx context.Context) (*StartInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateUninitialized, StateError:
		return nil, errors.NewNotInitialized("call Initialize before starting a session")
	case StateActive, StateReady:
		return nil, errors.NewInvalidSession(m.current.ID).
			WithField("reason", "a session is already active")
	}

	m.state = StateReady

	if err := m.provider.Acquire(ctx); err != nil {
		m.state = StateError
		metrics.RecordHardwareFailure()
		if stderrors.Is(err, errors.ErrHardwareUnavailable) {
			return nil, err
		}
		return nil, errors.NewHardwareUnavailable(err)
	}

	m.current = &Session{
		ID:           uuid.New().String(),
		State:        StateActive,
		StartTime:    time.Now(),
		PingCount:    0,
		Config:       m.chirpCfg,
		Capabilities: m.caps,
	}
	m.state = StateActive

	info := StartInfo{
		SessionID:    m.current.ID,
		StartTime:    m.current.StartTime,
		State:        m.state,
		Capabilities: m.caps,
	}

	metrics.RecordSessionStarted()
	if m.observer != nil {
		m.observer.SessionStarted(info)
	}

	m.logger.WithField("session_id", info.SessionID).Info("Ranging session started")
	return &info, nil
}

// PerformPing executes one ping in the active session. Concurrent calls are
// rejected with PingInProgress rather than queued: for a real-time UI, a
// fresh ping a moment later beats a stale one delivered late.
func (m *Manager) PerformPing(ctx context.Context, direction sonar.Direction, maxRangeMeters float64) (*sonar.PingResult, error) {
	m.mu.Lock()

	if m.state != StateActive || m.current == nil {
		m.mu.Unlock()
		metrics.RecordPing(metrics.OutcomeRejected, 0, 0, 0)
		return nil, errors.NewNoActiveSession("call StartSession before pinging")
	}
	if m.pingInFlight {
		sessionID := m.current.ID
		m.mu.Unlock()
		metrics.RecordPing(metrics.OutcomeRejected, 0, 0, 0)
		return nil, errors.NewPingInProgress(sessionID)
	}

	session := m.current
	engine := m.engine

	pingCtx, cancel := context.WithCancel(ctx)
	m.pingInFlight = true
	m.cancelPing = cancel
	m.mu.Unlock()

	// Correlation is CPU-bound and capture blocks until the window fills;
	// both run outside the lock so StopSession can interleave and cancel.
	result, err := engine.PerformPing(pingCtx, direction, maxRangeMeters)

	m.mu.Lock()
	defer m.mu.Unlock()

	cancel()
	m.pingInFlight = false
	m.cancelPing = nil

	if err != nil {
		if stderrors.Is(err, errors.ErrPingAborted) {
			metrics.RecordPing(metrics.OutcomeAborted, 0, 0, 0)
			return nil, err
		}

		// Hardware failure mid-ping: abort this ping only, park the session
		// in the error state for the caller to inspect and restart.
		m.state = StateError
		metrics.RecordPing(metrics.OutcomeHardware, 0, 0, 0)
		metrics.RecordHardwareFailure()
		m.logger.WithError(err).WithField("session_id", session.ID).Error("Ping failed, session moved to error state")
		return nil, err
	}

	// The session may have been stopped while the ping was in flight; its
	// partial result is discarded rather than attributed to a dead session.
	if m.current != session || m.state != StateActive {
		metrics.RecordPing(metrics.OutcomeAborted, 0, 0, 0)
		return nil, errors.NewPingAborted(nil)
	}

	session.PingCount++

	metrics.RecordPing(metrics.OutcomeOK, result.ProcessingTimeMs/1000, result.Confidence, result.DistanceMeters)
	if m.observer != nil {
		m.observer.PingCompleted(session.ID, result)
	}

	return result, nil
}

// StopSession completes the session with the given ID, canceling any ping
// still in flight. The session object is retired; a new StartSession is
// required to ping again.
func (m *Manager) StopSession(sessionID string) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActive || m.current == nil {
		return nil, errors.NewNoActiveSession("no session to stop")
	}
	if m.current.ID != sessionID {
		return nil, errors.NewInvalidSession(sessionID)
	}

	if m.cancelPing != nil {
		m.cancelPing()
	}

	endTime := time.Now()
	summary := Summary{
		SessionID:  m.current.ID,
		EndTime:    endTime,
		Duration:   endTime.Sub(m.current.StartTime),
		TotalPings: m.current.PingCount,
		State:      StateCompleted,
	}

	m.current.State = StateCompleted
	m.current = nil
	m.state = StateCompleted

	if err := m.provider.Release(); err != nil {
		m.logger.WithError(err).Warn("Failed to release audio provider")
	}

	metrics.RecordSessionStopped(summary.Duration.Seconds())
	if m.observer != nil {
		m.observer.SessionStopped(summary)
	}

	m.logger.WithFields(logrus.Fields{
		"session_id":  summary.SessionID,
		"duration":    summary.Duration,
		"total_pings": summary.TotalPings,
	}).Info("Ranging session stopped")

	return &summary, nil
}

// Cleanup releases all acquired hardware resources. Callable at any time,
// idempotent; the manager returns to the uninitialized state.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelPing != nil {
		m.cancelPing()
		m.cancelPing = nil
	}

	if m.current != nil {
		metrics.RecordSessionStopped(time.Since(m.current.StartTime).Seconds())
		m.current = nil
	}

	if err := m.provider.Release(); err != nil {
		m.logger.WithError(err).Warn("Failed to release audio provider")
	}

	m.engine = nil
	m.initialized = false
	m.state = StateUninitialized

	m.logger.Info("Ranging engine cleaned up")
}

// checkAgainstCapabilities applies the session-level configuration rules: the
// sweep must sit inside the rangeable frequency band and the device must
// support the sample rate.
func (m *Manager) checkAgainstCapabilities(cfg config.ChirpConfig, caps audio.Capabilities) error {
	if err := m.checkFrequencyBand(cfg); err != nil {
		return err
	}
	if !caps.SupportsSampleRate(cfg.SampleRateHz) {
		return errors.NewInvalidConfig("sample rate not supported by the audio hardware", map[string]interface{}{
			"sample_rate_hz":     cfg.SampleRateHz,
			"min_sample_rate_hz": caps.MinSampleRateHz,
			"max_sample_rate_hz": caps.MaxSampleRateHz,
		})
	}
	return nil
}

func (m *Manager) checkFrequencyBand(cfg config.ChirpConfig) error {
	upper := MaxFrequencyHz
	if nyquist := float64(cfg.SampleRateHz) / 2; nyquist < upper {
		upper = nyquist
	}

	if cfg.FrequencyStartHz < MinFrequencyHz || cfg.FrequencyEndHz > upper {
		return errors.NewInvalidConfig("frequency sweep outside the rangeable band", map[string]interface{}{
			"frequency_start_hz": cfg.FrequencyStartHz,
			"frequency_end_hz":   cfg.FrequencyEndHz,
			"band_low_hz":        MinFrequencyHz,
			"band_high_hz":       upper,
		})
	}
	return nil
}
