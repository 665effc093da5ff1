// Package reader collects raw tag ids from an RFID reader for one antenna
// orientation.
package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/tagsearch/internal/monitoring"
	"github.com/banshee-data/tagsearch/internal/serialmux"
	"github.com/banshee-data/tagsearch/internal/timeutil"
)

// ErrExhausted is returned by a Reader with no further readings.
var ErrExhausted = errors.New("reader exhausted")

// Reader returns the ids detected at the current orientation. Ids may repeat
// and may include ids that are neither grid nor target tags.
type Reader interface {
	Read(ctx context.Context) ([]string, error)
}

// SerialReader reads tag lines from a reader attached to a serial line. The
// reader emits one line per inventory hit with the EPC in the first
// comma-separated field, e.g. "E2801160600002084A6B4C11,-52,1".
type SerialReader struct {
	mux     serialmux.Mux
	window  time.Duration
	repeats int
	command string

	// Clock times the read windows. Defaults to the wall clock.
	Clock timeutil.Clock
}

// NewSerialReader returns a reader that listens for repeats windows of
// length window. If command is non-empty it is sent at the start of every
// window to trigger an inventory round.
func NewSerialReader(mux serialmux.Mux, window time.Duration, repeats int, command string) *SerialReader {
	if repeats < 1 {
		repeats = 1
	}
	return &SerialReader{mux: mux, window: window, repeats: repeats, command: command, Clock: timeutil.RealClock{}}
}

// Read concatenates the ids seen over all windows.
func (r *SerialReader) Read(ctx context.Context) ([]string, error) {
	id, lines := r.mux.Subscribe()
	defer r.mux.Unsubscribe(id)

	var ids []string
	for i := 0; i < r.repeats; i++ {
		if r.command != "" {
			if err := r.mux.SendCommand(r.command); err != nil {
				return nil, fmt.Errorf("send read command: %w", err)
			}
		}
		got, err := collect(ctx, r.Clock, lines, r.window)
		if err != nil {
			return nil, err
		}
		ids = append(ids, got...)
	}
	monitoring.Logf("reader: %d ids over %d windows", len(ids), r.repeats)
	return ids, nil
}

// collect gathers ids until the window closes. Lines already queued when
// the window closes are still counted.
func collect(ctx context.Context, clock timeutil.Clock, lines <-chan string, window time.Duration) ([]string, error) {
	timer := clock.NewTimer(window)
	defer timer.Stop()

	var ids []string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C():
			for {
				select {
				case line, ok := <-lines:
					if !ok {
						return ids, nil
					}
					ids = appendEPC(ids, line)
				default:
					return ids, nil
				}
			}
		case line, ok := <-lines:
			if !ok {
				return nil, fmt.Errorf("reader port closed: %w", ErrExhausted)
			}
			ids = appendEPC(ids, line)
		}
	}
}

func appendEPC(ids []string, line string) []string {
	if epc := ParseEPC(line); epc != "" {
		return append(ids, epc)
	}
	return ids
}

// ParseEPC extracts the tag id from one reader output line.
func ParseEPC(line string) string {
	epc, _, _ := strings.Cut(line, ",")
	return strings.TrimSpace(epc)
}
