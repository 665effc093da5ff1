package inference

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/tagsearch/internal/grid"
)

// SensorParams are the two reader reliability scalars. P1 applies when a
// cell's detection status matches what the orientation expects, P2 to the
// complementary case.
type SensorParams struct {
	P1 float64 `json:"p1" yaml:"p1"`
	P2 float64 `json:"p2" yaml:"p2"`
}

// Validate checks that both parameters lie strictly inside (0, 1).
func (p SensorParams) Validate() error {
	if !(p.P1 > 0 && p.P1 < 1) {
		return fmt.Errorf("p1 must be in (0, 1), got %v", p.P1)
	}
	if !(p.P2 > 0 && p.P2 < 1) {
		return fmt.Errorf("p2 must be in (0, 1), got %v", p.P2)
	}
	return nil
}

// Visibility is the set of cells expected to be readable from one
// orientation.
type Visibility map[grid.Coord]struct{}

// NewVisibility returns a Visibility containing coords.
func NewVisibility(coords ...grid.Coord) Visibility {
	v := make(Visibility, len(coords))
	for _, c := range coords {
		v[c] = struct{}{}
	}
	return v
}

// Has reports whether c is expected to be visible.
func (v Visibility) Has(c grid.Coord) bool {
	_, ok := v[c]
	return ok
}

// VisibilityProfile holds one Visibility per orientation, in search order.
type VisibilityProfile []Visibility

// Validate checks that every expected coordinate lies inside g.
func (vp VisibilityProfile) Validate(g *grid.Grid) error {
	var errs []error
	for i, v := range vp {
		for c := range v {
			if !g.Contains(c) {
				errs = append(errs, fmt.Errorf("orientation %d: %s outside %dx%d grid", i, c, g.Rows(), g.Cols()))
			}
		}
	}
	return errors.Join(errs...)
}

// Terms are the detection counts the likelihood is built from.
//
//	R  the evaluated cell's tag was read
//	V1 the evaluated cell is expected visible
//	V2 read cells that were expected
//	V3 read cells that were not expected
//	V4 expected cells that were not read
//	V5 grid size minus V2+V3+V4
type Terms struct {
	R, V1, V2, V3, V4, V5 int
}

// orientationTerms fills the cell-independent counts V2..V5.
func orientationTerms(o Observation, expected Visibility, gridSize int) Terms {
	var t Terms
	for _, c := range o.Cells() {
		if expected.Has(c) {
			t.V2++
		} else {
			t.V3++
		}
	}
	for c := range expected {
		if !o.Contains(c) {
			t.V4++
		}
	}
	t.V5 = gridSize - (t.V2 + t.V3 + t.V4)
	return t
}

// forCell returns a copy of t with R and V1 set for the cell at c.
func (t Terms) forCell(o Observation, c grid.Coord, expected Visibility) Terms {
	t.R, t.V1 = 0, 0
	if o.Contains(c) {
		t.R = 1
	}
	if expected.Has(c) {
		t.V1 = 1
	}
	return t
}

// ComputeTerms returns every count for the cell at c.
func ComputeTerms(o Observation, c grid.Coord, expected Visibility, gridSize int) Terms {
	return orientationTerms(o, expected, gridSize).forCell(o, c, expected)
}

// Factor evaluates the unnormalized likelihood for these counts.
func (t Terms) Factor(p SensorParams) float64 {
	p1, p2 := p.P1, p.P2
	r, v1 := t.R, t.V1
	return pow(p1, r*v1) *
		pow(1-p1, (1-r)*v1) *
		pow(p2, r*(1-v1)) *
		pow(1-p2, (1-r)*(1-v1)) *
		pow(p1, t.V2) *
		pow(1-p1, t.V4) *
		pow(p2, t.V3) *
		pow(1-p2, t.V5)
}

// LogFactor is the natural log of Factor. It stays finite on grids large
// enough for Factor to underflow to zero. A zero exponent contributes
// nothing, so an unused zero base does not produce -Inf.
func (t Terms) LogFactor(p SensorParams) float64 {
	p1, p2 := p.P1, p.P2
	r, v1 := t.R, t.V1
	return logPow(p1, r*v1) +
		logPow(1-p1, (1-r)*v1) +
		logPow(p2, r*(1-v1)) +
		logPow(1-p2, (1-r)*(1-v1)) +
		logPow(p1, t.V2) +
		logPow(1-p1, t.V4) +
		logPow(p2, t.V3) +
		logPow(1-p2, t.V5)
}

// Likelihood scores how consistent one orientation's Observation is with the
// target being at cell c. The result is not normalized.
func Likelihood(o Observation, c grid.Coord, expected Visibility, p SensorParams, gridSize int) float64 {
	return ComputeTerms(o, c, expected, gridSize).Factor(p)
}

// logPow is log(x^n) with log(x^0) = 0.
func logPow(x float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(n) * math.Log(x)
}

// pow treats 0^0 as 1, matching math.Pow.
func pow(x float64, n int) float64 {
	return math.Pow(x, float64(n))
}

// detectionConsistency is the cell-independent per-orientation score used by
// the scalar evidence model: it depends only on whether the target was read.
func detectionConsistency(o Observation, p SensorParams) float64 {
	r := 0
	if o.HasTarget() {
		r = 1
	}
	p1, p2 := p.P1, p.P2
	return pow(p1, r) * pow(1-p1, 1-r) * pow(p2, r) * pow(1-p2, 1-r) *
		p1 * (1 - p1) * p2 * (1 - p2)
}
