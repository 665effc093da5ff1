// Package actuator points the antenna mount at each orientation of the
// search profile.
package actuator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/banshee-data/tagsearch/internal/monitoring"
	"github.com/banshee-data/tagsearch/internal/serialmux"
	"github.com/banshee-data/tagsearch/internal/timeutil"
)

// Pointer moves the antenna to a set of servo angles and returns once the
// mount has settled.
type Pointer interface {
	Point(ctx context.Context, angles []float64) error
}

// ServoController drives a servo board over a serial line. Each angle is
// written as a decimal followed by a carriage return; the board applies them
// to its servos in order.
type ServoController struct {
	mux    serialmux.Mux
	settle time.Duration
	clock  timeutil.Clock
}

// NewServoController returns a controller writing to mux. settle is the time
// the servos need to reach a commanded position.
func NewServoController(mux serialmux.Mux, settle time.Duration) *ServoController {
	return NewServoControllerWithClock(mux, settle, timeutil.RealClock{})
}

// NewServoControllerWithClock is NewServoController with an injected clock.
func NewServoControllerWithClock(mux serialmux.Mux, settle time.Duration, clock timeutil.Clock) *ServoController {
	return &ServoController{mux: mux, settle: settle, clock: clock}
}

// Point writes each angle, waiting half the settle time between angles and
// the full settle time after the last one.
func (s *ServoController) Point(ctx context.Context, angles []float64) error {
	for i, a := range angles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.mux.SendCommand(FormatAngle(a)); err != nil {
			return fmt.Errorf("send angle %d (%v): %w", i, a, err)
		}
		if err := s.clock.Sleep(ctx, s.settle/2); err != nil {
			return err
		}
	}
	monitoring.Logf("actuator: pointed at %v", angles)
	return s.clock.Sleep(ctx, s.settle)
}

// FormatAngle renders an angle in the shortest decimal form.
func FormatAngle(a float64) string {
	return strconv.FormatFloat(a, 'f', -1, 64)
}

// LogPointer only logs the requested angles. It stands in for the servo
// board when running against recorded readings.
type LogPointer struct{}

func (LogPointer) Point(ctx context.Context, angles []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	monitoring.Logf("actuator: (no hardware) pointing at %v", angles)
	return nil
}
