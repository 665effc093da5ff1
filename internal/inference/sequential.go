package inference

import (
	"fmt"

	"github.com/banshee-data/tagsearch/internal/grid"
)

// EvidenceModel selects how SequentialUpdater scores a cycle.
type EvidenceModel string

const (
	// EvidenceScalar scores the cycle with one value shared by every cell:
	// the target-detection consistency averaged over orientations. The
	// posterior is then the renormalized prior.
	EvidenceScalar EvidenceModel = "scalar"
	// EvidencePerCell scores each cell with the full likelihood averaged
	// over orientations, the same evidence BatchUpdater uses.
	EvidencePerCell EvidenceModel = "per_cell"
)

// ParseEvidenceModel maps a config string to an EvidenceModel. The empty
// string selects EvidenceScalar.
func ParseEvidenceModel(s string) (EvidenceModel, error) {
	switch EvidenceModel(s) {
	case "", EvidenceScalar:
		return EvidenceScalar, nil
	case EvidencePerCell:
		return EvidencePerCell, nil
	}
	return "", fmt.Errorf("unknown evidence model %q", s)
}

// SequentialUpdater performs a recursive Bayes step: the newest History entry
// is the prior and the new posterior is appended to History.
type SequentialUpdater struct {
	Params   SensorParams
	Profile  VisibilityProfile
	Evidence EvidenceModel
	History  *BeliefState
}

// NewSequentialUpdater seeds the history with the grid's current
// probabilities.
func NewSequentialUpdater(g *grid.Grid, params SensorParams, profile VisibilityProfile, evidence EvidenceModel, retention int) *SequentialUpdater {
	return &SequentialUpdater{
		Params:   params,
		Profile:  profile,
		Evidence: evidence,
		History:  NewBeliefState(g.Probabilities(), retention),
	}
}

// Update computes posterior_t ∝ evidence_t · posterior_{t-1}, applies it to g
// and appends it to History.
func (u *SequentialUpdater) Update(g *grid.Grid, observations []Observation) error {
	if err := checkShape(observations, u.Profile); err != nil {
		return err
	}
	if u.History == nil {
		u.History = NewBeliefState(g.Probabilities(), 0)
	}
	prior := u.History.Latest()
	if prior == nil {
		prior = g.Probabilities()
	}
	if len(prior) != g.Rows() || rowLen(prior) != g.Cols() {
		return fmt.Errorf("%w: history holds %dx%d, grid is %dx%d",
			grid.ErrShape, len(prior), rowLen(prior), g.Rows(), g.Cols())
	}

	var posterior [][]float64
	var err error
	switch u.Evidence {
	case EvidencePerCell:
		posterior, err = posteriorFrom(prior, cellLogEvidence(g, observations, u.Profile, u.Params))
	default:
		numerators := clone(prior)
		e := u.scalarEvidence(observations)
		for r := range numerators {
			for c := range numerators[r] {
				numerators[r][c] *= e
			}
		}
		posterior, err = Normalize(numerators)
	}
	if err != nil {
		return err
	}
	if err := g.Apply(posterior); err != nil {
		return err
	}
	u.History.Append(posterior)
	return nil
}

func (u *SequentialUpdater) scalarEvidence(observations []Observation) float64 {
	weight := 1 / float64(len(observations))
	sum := 0.0
	for _, o := range observations {
		sum += weight * detectionConsistency(o, u.Params)
	}
	return sum
}
