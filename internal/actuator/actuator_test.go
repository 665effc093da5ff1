package actuator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagsearch/internal/serialmux"
	"github.com/banshee-data/tagsearch/internal/timeutil"
)

func newServo(settle time.Duration) (*ServoController, *serialmux.TestableSerialPort, *timeutil.MockClock) {
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	mux.Terminator = "\r"
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	return NewServoControllerWithClock(mux, settle, clock), port, clock
}

func TestPointWritesAnglesAndSettles(t *testing.T) {
	t.Parallel()
	s, port, clock := newServo(2 * time.Second)

	require.NoError(t, s.Point(context.Background(), []float64{30, 92.5}))

	assert.Equal(t, "30\r92.5\r", port.Written())
	assert.Equal(t, []time.Duration{time.Second, time.Second, 2 * time.Second}, clock.Sleeps())
	assert.Equal(t, 4*time.Second, clock.Since(time.Unix(0, 0)))
}

func TestPointEmptyAnglesStillSettles(t *testing.T) {
	t.Parallel()
	s, port, clock := newServo(time.Second)
	require.NoError(t, s.Point(context.Background(), nil))
	assert.Empty(t, port.Written())
	assert.Equal(t, []time.Duration{time.Second}, clock.Sleeps())
}

func TestPointWriteError(t *testing.T) {
	t.Parallel()
	s, port, _ := newServo(0)
	port.WriteError = errors.New("unplugged")
	err := s.Point(context.Background(), []float64{10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unplugged")
}

func TestPointCancelled(t *testing.T) {
	t.Parallel()
	s, port, _ := newServo(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Point(ctx, []float64{10}), context.Canceled)
	assert.Empty(t, port.Written())
}

func TestNewServoControllerUsesRealClock(t *testing.T) {
	t.Parallel()
	s := NewServoController(serialmux.NewSerialMux(serialmux.NewTestableSerialPort()), 0)
	assert.Equal(t, timeutil.RealClock{}, s.clock)
	assert.NoError(t, s.Point(context.Background(), nil))
}

func TestFormatAngle(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0", FormatAngle(0))
	assert.Equal(t, "-45", FormatAngle(-45))
	assert.Equal(t, "12.25", FormatAngle(12.25))
}

func TestLogPointer(t *testing.T) {
	t.Parallel()
	assert.NoError(t, LogPointer{}.Point(context.Background(), []float64{1}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, LogPointer{}.Point(ctx, nil))
}
