package inference

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/tagsearch/internal/grid"
)

// Updater folds one cycle of observations into a grid.
type Updater interface {
	Update(g *grid.Grid, observations []Observation) error
}

// BatchUpdater recomputes the posterior from the grid's current
// probabilities. Each cell's evidence is the likelihood averaged over all
// orientations.
type BatchUpdater struct {
	Params  SensorParams
	Profile VisibilityProfile
}

// NewBatchUpdater returns a BatchUpdater for the given sensor and profile.
func NewBatchUpdater(params SensorParams, profile VisibilityProfile) *BatchUpdater {
	return &BatchUpdater{Params: params, Profile: profile}
}

// Update applies one cycle of observations to g.
func (u *BatchUpdater) Update(g *grid.Grid, observations []Observation) error {
	if err := checkShape(observations, u.Profile); err != nil {
		return err
	}
	posterior, err := posteriorFrom(g.Probabilities(), cellLogEvidence(g, observations, u.Profile, u.Params))
	if err != nil {
		return err
	}
	return g.Apply(posterior)
}

// cellLogEvidence returns, per cell, the log of the likelihood averaged with
// weight 1/len(observations) over all orientations.
func cellLogEvidence(g *grid.Grid, observations []Observation, profile VisibilityProfile, params SensorParams) [][]float64 {
	logWeight := -math.Log(float64(len(observations)))
	bases := make([]Terms, len(observations))
	for i, o := range observations {
		bases[i] = orientationTerms(o, profile[i], g.Size())
	}
	out := make([][]float64, g.Rows())
	for r := range out {
		out[r] = make([]float64, g.Cols())
	}
	perOrientation := make([]float64, len(observations))
	for _, c := range g.Coords() {
		for i, o := range observations {
			perOrientation[i] = bases[i].forCell(o, c, profile[i]).LogFactor(params)
		}
		out[c.Row][c.Col] = logWeight + floats.LogSumExp(perOrientation)
	}
	return out
}

// posteriorFrom multiplies prior by exp(logEvidence) cell by cell and
// normalizes, working in logs throughout.
func posteriorFrom(prior, logEvidence [][]float64) ([][]float64, error) {
	logs := make([][]float64, len(prior))
	for r := range prior {
		logs[r] = make([]float64, len(prior[r]))
		for c, p := range prior[r] {
			logs[r][c] = math.Log(p) + logEvidence[r][c]
		}
	}
	return NormalizeLog(logs)
}

func checkShape(observations []Observation, profile VisibilityProfile) error {
	if len(observations) != len(profile) {
		return fmt.Errorf("%w: got %d observations for %d orientations", ErrShapeMismatch, len(observations), len(profile))
	}
	if len(observations) == 0 {
		return fmt.Errorf("%w: no orientations configured", ErrShapeMismatch)
	}
	return nil
}
