package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/tagsearch/internal/config"
	"github.com/banshee-data/tagsearch/internal/db"
	"github.com/banshee-data/tagsearch/internal/inference"
	"github.com/banshee-data/tagsearch/internal/monitoring"
)

// RunLog is the read side of the run log. *db.DB implements it.
type RunLog interface {
	Run(id string) (db.Run, error)
	Readings(runID string) ([]db.Reading, error)
}

// Replay recomputes a recorded run's posterior from its raw readings, using
// the configuration the run was started with. Cycles with a missing
// orientation are skipped.
func Replay(ctx context.Context, log RunLog, runID string) (Result, error) {
	run, err := log.Run(runID)
	if err != nil {
		return Result{}, err
	}
	cfg := &config.SearchConfig{}
	if err := json.Unmarshal(run.ConfigJSON, cfg); err != nil {
		return Result{}, fmt.Errorf("%w: run %s: %w", config.ErrInvalidConfig, runID, err)
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	return ReplayWith(ctx, cfg, log, runID)
}

// ReplayWith replays runID's readings under cfg, which may differ from the
// recorded configuration (for example to compare update methods). The grid
// and profile must still match the recorded readings.
func ReplayWith(ctx context.Context, cfg *config.SearchConfig, log RunLog, runID string) (Result, error) {
	g, err := cfg.BuildGrid()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	updater, err := NewUpdater(cfg, g)
	if err != nil {
		return Result{}, err
	}
	readings, err := log.Readings(runID)
	if err != nil {
		return Result{}, err
	}

	targets := cfg.Targets()
	orientations := cfg.Orientations()
	res := Result{RunID: runID, Method: cfg.GetMethod()}

	for _, cycle := range groupByCycle(readings) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.CyclesRun++
		if len(cycle.byOrientation) != orientations {
			res.CyclesFailed++
			monitoring.Logf("replay %s: cycle %d has %d of %d orientations, skipping",
				runID, cycle.number, len(cycle.byOrientation), orientations)
			continue
		}
		observations := make([]inference.Observation, orientations)
		complete := true
		for i := range observations {
			raw, ok := cycle.byOrientation[i]
			if !ok {
				complete = false
				break
			}
			observations[i] = inference.ParseReading(raw, g, targets)
		}
		if !complete {
			res.CyclesFailed++
			monitoring.Logf("replay %s: cycle %d has gaps in its orientations, skipping", runID, cycle.number)
			continue
		}
		if err := updater.Update(g, observations); err != nil {
			res.CyclesFailed++
			monitoring.Logf("replay %s: cycle %d: %v", runID, cycle.number, err)
		}
	}

	res.Probabilities = g.Probabilities()
	res.Best = MostLikely(g)
	return res, nil
}

type recordedCycle struct {
	number        int
	byOrientation map[int][]string
}

// groupByCycle groups readings, which arrive ordered by cycle.
func groupByCycle(readings []db.Reading) []recordedCycle {
	var out []recordedCycle
	for _, r := range readings {
		if len(out) == 0 || out[len(out)-1].number != r.Cycle {
			out = append(out, recordedCycle{number: r.Cycle, byOrientation: map[int][]string{}})
		}
		out[len(out)-1].byOrientation[r.Orientation] = r.TagIDs
	}
	return out
}
