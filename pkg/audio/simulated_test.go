package audio

import (
	"context"
	stderrors "errors"
	"io"
	"testing"
	"time"

	"echoloc-core/pkg/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSimulatedProviderEchoLoopback(t *testing.T) {
	cfg := SimulatedConfig{
		EchoDelaySamples: 10,
		EchoAttenuation:  0.5,
		NoiseLevel:       0,
		Seed:             1,
	}
	provider := NewSimulatedProvider(newTestLogger(), cfg)
	ctx := context.Background()

	require.NoError(t, provider.Acquire(ctx))
	defer provider.Release()

	played := []float64{1, 2, 3}
	require.NoError(t, provider.Play(ctx, played))

	captured, err := provider.Capture(ctx, 20)
	require.NoError(t, err)
	require.Len(t, captured, 20)

	assert.Equal(t, 0.0, captured[9])
	assert.Equal(t, 0.5, captured[10])
	assert.Equal(t, 1.0, captured[11])
	assert.Equal(t, 1.5, captured[12])
	assert.Equal(t, 0.0, captured[13])
}

func TestSimulatedProviderEchoTruncatedAtWindowEnd(t *testing.T) {
	cfg := SimulatedConfig{EchoDelaySamples: 8, EchoAttenuation: 1}
	provider := NewSimulatedProvider(newTestLogger(), cfg)
	ctx := context.Background()

	require.NoError(t, provider.Acquire(ctx))
	require.NoError(t, provider.Play(ctx, []float64{1, 1, 1, 1}))

	captured, err := provider.Capture(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0, 0, 0, 1, 1}, captured)
}

func TestSimulatedProviderDeterministicNoise(t *testing.T) {
	cfg := DefaultSimulatedConfig()

	first := NewSimulatedProvider(newTestLogger(), cfg)
	second := NewSimulatedProvider(newTestLogger(), cfg)
	ctx := context.Background()

	require.NoError(t, first.Acquire(ctx))
	require.NoError(t, second.Acquire(ctx))

	a, err := first.Capture(ctx, 256)
	require.NoError(t, err)
	b, err := second.Capture(ctx, 256)
	require.NoError(t, err)

	assert.Equal(t, a, b, "same seed must produce identical noise")
}

func TestSimulatedProviderRequiresAcquire(t *testing.T) {
	provider := NewSimulatedProvider(newTestLogger(), DefaultSimulatedConfig())
	ctx := context.Background()

	err := provider.Play(ctx, []float64{1})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrHardwareUnavailable))

	_, err = provider.Capture(ctx, 16)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrHardwareUnavailable))
}

func TestSimulatedProviderFailAcquire(t *testing.T) {
	cfg := DefaultSimulatedConfig()
	cfg.FailAcquire = true
	provider := NewSimulatedProvider(newTestLogger(), cfg)

	assert.False(t, provider.Available())

	err := provider.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeHardwareUnavailable, errors.GetCode(err))
}

func TestSimulatedProviderCaptureCancellation(t *testing.T) {
	cfg := DefaultSimulatedConfig()
	cfg.CaptureDelay = 5 * time.Second
	provider := NewSimulatedProvider(newTestLogger(), cfg)

	require.NoError(t, provider.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := provider.Capture(ctx, 1024)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		assert.True(t, stderrors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("capture did not honor cancellation")
	}
}

func TestSimulatedProviderReleaseIdempotent(t *testing.T) {
	provider := NewSimulatedProvider(newTestLogger(), DefaultSimulatedConfig())

	require.NoError(t, provider.Acquire(context.Background()))
	require.NoError(t, provider.Release())
	require.NoError(t, provider.Release())

	// Re-acquire works after release.
	require.NoError(t, provider.Acquire(context.Background()))
}

func TestSimulatedProviderCapabilities(t *testing.T) {
	provider := NewSimulatedProvider(newTestLogger(), DefaultSimulatedConfig())

	caps, err := provider.Capabilities()
	require.NoError(t, err)

	assert.True(t, caps.SupportsUltrasonic)
	assert.True(t, caps.SupportsSampleRate(44100))
	assert.False(t, caps.SupportsSampleRate(96000))
	assert.False(t, caps.SupportsSampleRate(4000))
}
