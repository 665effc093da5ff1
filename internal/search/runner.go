// Package search drives a target search: point the antenna at every
// orientation, read tags, fold the cycle into the belief grid and record the
// raw readings.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/tagsearch/internal/actuator"
	"github.com/banshee-data/tagsearch/internal/config"
	"github.com/banshee-data/tagsearch/internal/db"
	"github.com/banshee-data/tagsearch/internal/grid"
	"github.com/banshee-data/tagsearch/internal/inference"
	"github.com/banshee-data/tagsearch/internal/monitoring"
	"github.com/banshee-data/tagsearch/internal/reader"
	"github.com/banshee-data/tagsearch/internal/timeutil"
)

// Store records a run. *db.DB implements it.
type Store interface {
	InsertRun(db.Run) error
	RecordReading(db.Reading) error
	RecordCycleOutcome(db.CycleOutcome) error
}

// Result summarises a finished run.
type Result struct {
	RunID         string
	Method        string
	CyclesRun     int
	CyclesFailed  int
	Probabilities [][]float64
	// Best is the most probable cell; ties go to the first in row-major order.
	Best grid.Cell
}

// Runner executes search cycles against real or recorded hardware.
type Runner struct {
	cfg        *config.SearchConfig
	grid       *grid.Grid
	updater    inference.Updater
	visibility inference.VisibilityProfile
	targets    inference.TargetSet

	pointer actuator.Pointer
	reader  reader.Reader
	store   Store

	// Clock stamps runs, readings and outcomes. Defaults to the wall clock.
	Clock timeutil.Clock

	mu       sync.RWMutex
	snapshot [][]float64
	runID    string
}

// NewRunner builds the grid and updater described by cfg. store may be nil,
// in which case nothing is recorded.
func NewRunner(cfg *config.SearchConfig, pointer actuator.Pointer, rd reader.Reader, store Store) (*Runner, error) {
	g, err := cfg.BuildGrid()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	visibility, err := cfg.Profile()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	updater, err := NewUpdater(cfg, g)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:        cfg,
		grid:       g,
		updater:    updater,
		visibility: visibility,
		targets:    cfg.Targets(),
		pointer:    pointer,
		reader:     rd,
		store:      store,
		Clock:      timeutil.RealClock{},
	}, nil
}

// NewUpdater returns the updater selected by cfg's method.
func NewUpdater(cfg *config.SearchConfig, g *grid.Grid) (inference.Updater, error) {
	profile, err := cfg.Profile()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	switch cfg.GetMethod() {
	case config.MethodBatch:
		return inference.NewBatchUpdater(cfg.Params(), profile), nil
	case config.MethodSequential:
		return inference.NewSequentialUpdater(g, cfg.Params(), profile, cfg.GetEvidence(), cfg.GetHistoryRetention()), nil
	}
	return nil, fmt.Errorf("%w: unknown method %q", config.ErrInvalidConfig, cfg.GetMethod())
}

// Probabilities returns a copy of the grid after the most recent cycle, or
// nil before Run starts. It is safe to call while Run is in progress.
func (r *Runner) Probabilities() [][]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snapshot == nil {
		return nil
	}
	out := make([][]float64, len(r.snapshot))
	for i, row := range r.snapshot {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// RunID returns the id of the current or last run.
func (r *Runner) RunID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runID
}

func (r *Runner) publish() {
	p := r.grid.Probabilities()
	r.mu.Lock()
	r.snapshot = p
	r.mu.Unlock()
}

// Run executes the configured number of cycles. A failed cycle aborts the
// run unless skip_failed_cycles is set, in which case the grid keeps its
// previous state and the next cycle starts. Context cancellation always
// aborts.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	runID := uuid.NewString()
	r.mu.Lock()
	r.runID = runID
	r.mu.Unlock()
	r.publish()

	method := r.cfg.GetMethod()
	res := Result{RunID: runID, Method: method}

	if r.store != nil {
		cfgJSON, err := json.Marshal(r.cfg)
		if err != nil {
			return res, fmt.Errorf("encode config: %w", err)
		}
		if err := r.store.InsertRun(db.Run{
			ID:           runID,
			Method:       method,
			Evidence:     string(r.cfg.GetEvidence()),
			Rows:         r.grid.Rows(),
			Cols:         r.grid.Cols(),
			Orientations: r.cfg.Orientations(),
			ConfigJSON:   cfgJSON,
			Started:      r.Clock.Now(),
		}); err != nil {
			return res, err
		}
	}
	monitoring.Logf("search %s: %s update, %d cycles over %d orientations", runID, method, r.cfg.GetCycles(), r.cfg.Orientations())

	for cycle := 1; cycle <= r.cfg.GetCycles(); cycle++ {
		err := r.cycle(ctx, runID, cycle)
		if ctx.Err() != nil {
			return r.finish(res), ctx.Err()
		}
		res.CyclesRun++
		if err != nil {
			res.CyclesFailed++
			if !r.cfg.GetSkipFailedCycles() {
				return r.finish(res), fmt.Errorf("cycle %d: %w", cycle, err)
			}
			monitoring.Logf("search %s: cycle %d skipped: %v", runID, cycle, err)
		}
	}
	return r.finish(res), nil
}

func (r *Runner) finish(res Result) Result {
	res.Probabilities = r.grid.Probabilities()
	res.Best = MostLikely(r.grid)
	return res
}

func (r *Runner) cycle(ctx context.Context, runID string, cycle int) error {
	start := r.Clock.Now()
	method := r.cfg.GetMethod()
	outcome := db.CycleOutcome{RunID: runID, Cycle: cycle, Status: db.StatusOK}

	observations, err := r.collect(ctx, runID, cycle, &outcome)
	if err == nil {
		err = r.updater.Update(r.grid, observations)
	}
	monitoring.CycleSeconds.Observe(r.Clock.Since(start).Seconds())
	monitoring.CyclesTotal.WithLabelValues(method, outcomeLabel(err)).Inc()

	if err != nil {
		outcome.Status = db.StatusFailed
		if r.cfg.GetSkipFailedCycles() {
			outcome.Status = db.StatusSkipped
		}
		outcome.Error = err.Error()
	} else {
		r.publish()
		best := MostLikely(r.grid)
		monitoring.MaxProbability.Set(best.Probability)
		monitoring.Logf("search %s: cycle %d best %s (%v) p=%.4f", runID, cycle, best.Coord, best.IDs, best.Probability)
	}

	if r.store != nil && ctx.Err() == nil {
		outcome.Finished = r.Clock.Now()
		if serr := r.store.RecordCycleOutcome(outcome); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return err
}

// collect visits every orientation in order and parses what was read.
func (r *Runner) collect(ctx context.Context, runID string, cycle int, outcome *db.CycleOutcome) ([]inference.Observation, error) {
	observations := make([]inference.Observation, 0, len(r.cfg.SearchProfile))
	for i, angles := range r.cfg.SearchProfile {
		if err := r.pointer.Point(ctx, angles); err != nil {
			return nil, fmt.Errorf("point orientation %d: %w", i, err)
		}
		raw, err := r.reader.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("read orientation %d: %w", i, err)
		}
		if r.store != nil {
			if err := r.store.RecordReading(db.Reading{
				RunID: runID, Cycle: cycle, Orientation: i, TagIDs: raw, At: r.Clock.Now(),
			}); err != nil {
				return nil, err
			}
		}

		o := inference.ParseReading(raw, r.grid, r.targets)
		r.report(runID, cycle, i, o)
		outcome.UnknownCount += len(o.Unknown)
		if o.HasTarget() {
			outcome.TargetReads++
		}
		observations = append(observations, o)
	}
	return observations, nil
}

func (r *Runner) report(runID string, cycle, orientation int, o inference.Observation) {
	var expected []grid.Coord
	if orientation < len(r.visibility) {
		for _, c := range r.grid.Coords() {
			if r.visibility[orientation].Has(c) {
				expected = append(expected, c)
			}
		}
	}
	monitoring.Logf("search %s: cycle %d orientation %d expected %v read %s", runID, cycle, orientation, expected, o)
	for _, id := range o.Unknown {
		monitoring.Logf("search %s: unknown tag %q at orientation %d", runID, id, orientation)
	}
	monitoring.UnknownTagsTotal.Add(float64(len(o.Unknown)))
	if o.HasTarget() {
		monitoring.TargetReadsTotal.Inc()
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, inference.ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, inference.ErrNormalization):
		return "normalization"
	}
	return "error"
}

// MostLikely returns the cell with the highest probability.
func MostLikely(g *grid.Grid) grid.Cell {
	var best grid.Cell
	for i, c := range g.Coords() {
		cell, _ := g.Cell(c)
		if i == 0 || cell.Probability > best.Probability {
			best = cell
		}
	}
	return best
}
