package reader

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagsearch/internal/serialmux"
	"github.com/banshee-data/tagsearch/internal/timeutil"
)

func TestParseEPC(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line string
		want string
	}{
		{"E2801160600002084A6B4C11,-52,1", "E2801160600002084A6B4C11"},
		{"  TAG-7  ", "TAG-7"},
		{"TAG-7", "TAG-7"},
		{",-40", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseEPC(tt.line), "%q", tt.line)
	}
}

// fakeDevice answers each read command with lines.
func fakeDevice(t *testing.T, lines string) (*serialmux.SerialMux[*serialmux.TestableSerialPort], *serialmux.TestableSerialPort) {
	t.Helper()
	port := serialmux.NewTestableSerialPort()
	port.OnWrite = func(p []byte) {
		port.AddReadData([]byte(lines))
	}
	mux := serialmux.NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		mux.Monitor(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		mux.Close()
		<-done
	})
	return mux, port
}

func TestSerialReaderCommandPerWindow(t *testing.T) {
	t.Parallel()
	mux, port := fakeDevice(t, "A,-40\r\nB,-51\r\n")
	r := NewSerialReader(mux, 200*time.Millisecond, 2, "READ")

	ids, err := r.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "READ\nREAD\n", port.Written())
	assert.ElementsMatch(t, []string{"A", "B", "A", "B"}, ids)
}

func TestSerialReaderWithoutCommand(t *testing.T) {
	t.Parallel()
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	r := NewSerialReader(mux, 20*time.Millisecond, 0, "")
	assert.Equal(t, 1, r.repeats)

	ids, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, port.Written())
}

func TestSerialReaderCancelled(t *testing.T) {
	t.Parallel()
	mux := serialmux.NewSerialMux(serialmux.NewTestableSerialPort())
	r := NewSerialReader(mux, time.Hour, 1, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerialReaderSendError(t *testing.T) {
	t.Parallel()
	port := serialmux.NewTestableSerialPort()
	port.WriteError = errors.New("nak")
	r := NewSerialReader(serialmux.NewSerialMux(port), time.Millisecond, 1, "READ")
	_, err := r.Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send read command")
}

func TestCollectClosedChannel(t *testing.T) {
	t.Parallel()
	ch := make(chan string, 2)
	ch <- "A,1"
	close(ch)
	_, err := collect(context.Background(), timeutil.RealClock{}, ch, time.Hour)
	assert.ErrorIs(t, err, ErrExhausted)
}

// scriptedMux queues reply on the subscriber channel each time a command is
// sent, before the read window starts.
type scriptedMux struct {
	reply []string
	lines chan string
	sent  []string
}

func newScriptedMux(reply ...string) *scriptedMux {
	return &scriptedMux{reply: reply, lines: make(chan string, 64)}
}

func (m *scriptedMux) Subscribe() (string, chan string)  { return "sub", m.lines }
func (m *scriptedMux) Unsubscribe(string)                {}
func (m *scriptedMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (m *scriptedMux) Close() error                      { return nil }

func (m *scriptedMux) SendCommand(cmd string) error {
	m.sent = append(m.sent, cmd)
	for _, line := range m.reply {
		m.lines <- line
	}
	return nil
}

func TestSerialReaderWindowsFollowClock(t *testing.T) {
	t.Parallel()
	start := time.Unix(1_700_000_000, 0)
	clock := timeutil.NewMockClock(start)
	mux := newScriptedMux("A,-40", "B,-51", ",-60")
	r := NewSerialReader(mux, time.Hour, 3, "READ")
	r.Clock = clock

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		for i := 0; i < 3; i++ {
			if clock.BlockUntilTimers(ctx, 1) != nil {
				return
			}
			clock.Advance(time.Hour)
		}
	}()

	ids, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "A", "B", "A", "B"}, ids)
	assert.Equal(t, []string{"READ", "READ", "READ"}, mux.sent)
	assert.Equal(t, 3*time.Hour, clock.Since(start))
	assert.Zero(t, clock.PendingTimers())
}

func TestCollectCountsQueuedLinesAtWindowEnd(t *testing.T) {
	t.Parallel()
	ch := make(chan string, 2)
	ch <- "A,1"
	ch <- "B,1"

	// the window has closed before collect looks at the queue
	ids, err := collect(context.Background(), expiredClock{timeutil.NewMockClock(time.Unix(0, 0))}, ch, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)
}

// expiredClock hands out timers that have already fired.
type expiredClock struct{ *timeutil.MockClock }

func (c expiredClock) NewTimer(d time.Duration) timeutil.Timer {
	t := c.MockClock.NewTimer(d)
	c.MockClock.Advance(d)
	return t
}

func TestFixtureReader(t *testing.T) {
	t.Parallel()
	src := `# cycle 1
["A", "B"]

[]
["TARGET", "A"]
`
	f, err := NewFixtureReader(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 3, f.Len())

	ctx := context.Background()
	got, err := f.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, got)

	// returned slices are copies
	got[0] = "mutated"

	got, err = f.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"TARGET", "A"}, got)

	_, err = f.Read(ctx)
	assert.ErrorIs(t, err, ErrExhausted)

	f.Loop = true
	got, err = f.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, got)
}

func TestFixtureReaderErrors(t *testing.T) {
	t.Parallel()
	_, err := NewFixtureReader(strings.NewReader("[\"A\"]\n{bad\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fixture line 2")

	_, err = LoadFixture("does-not-exist.jsonl")
	assert.Error(t, err)

	empty, err := NewFixtureReader(strings.NewReader(""))
	require.NoError(t, err)
	empty.Loop = true
	_, err = empty.Read(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = empty.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
