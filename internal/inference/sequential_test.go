package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagsearch/internal/grid"
	"github.com/banshee-data/tagsearch/internal/testutil"
)

func TestSequentialUpdate_ScalarRenormalizesHistoryPrior(t *testing.T) {
	t.Parallel()
	g := newABCD(t)
	u := NewSequentialUpdater(g, SensorParams{P1: 0.9, P2: 0.4},
		VisibilityProfile{NewVisibility(cellA), NewVisibility(cellB)}, EvidenceScalar, 0)

	// The live grid changes but the prior comes from the history.
	require.NoError(t, g.Reset([][]float64{{4, 1}, {1, 1}}))

	obs := []Observation{NewObservation(TargetSymbol), NewObservation(CellSymbol(cellB))}
	require.NoError(t, u.Update(g, obs))

	p := g.Probabilities()
	testutil.AssertNormalized(t, p)
	for _, row := range p {
		for _, v := range row {
			assert.InDelta(t, 0.25, v, 1e-12)
		}
	}
	assert.Equal(t, 2, u.History.Len())
	assert.Equal(t, p, u.History.Latest())
}

func TestSequentialUpdate_PerCellSharpens(t *testing.T) {
	t.Parallel()
	g := newABCD(t)
	u := NewSequentialUpdater(g, SensorParams{P1: 0.9, P2: 0.4},
		VisibilityProfile{NewVisibility(cellA)}, EvidencePerCell, 0)

	obs := []Observation{NewObservation(CellSymbol(cellA))}
	require.NoError(t, u.Update(g, obs))
	first := g.Probabilities()[0][0]
	require.NoError(t, u.Update(g, obs))
	second := g.Probabilities()[0][0]

	assert.Greater(t, first, 0.25)
	assert.Greater(t, second, first, "posterior feeds the next prior")
	assert.Equal(t, 3, u.History.Len())
	testutil.AssertNormalized(t, g.Probabilities())
}

func TestSequentialUpdate_PerCellMatchesBatchOnFirstCycle(t *testing.T) {
	t.Parallel()
	params := SensorParams{P1: 0.75, P2: 0.35}
	profile := VisibilityProfile{NewVisibility(cellA, cellC), NewVisibility(cellD)}
	obs := []Observation{NewObservation(CellSymbol(cellC)), NewObservation(CellSymbol(cellD), NoneSymbol)}

	gb := newABCD(t)
	require.NoError(t, NewBatchUpdater(params, profile).Update(gb, obs))

	gs := newABCD(t)
	require.NoError(t, NewSequentialUpdater(gs, params, profile, EvidencePerCell, 0).Update(gs, obs))

	b, s := gb.Probabilities(), gs.Probabilities()
	for r := range b {
		for c := range b[r] {
			assert.InDelta(t, b[r][c], s[r][c], 1e-12)
		}
	}
}

func TestSequentialUpdate_ErrorsLeaveState(t *testing.T) {
	t.Parallel()

	t.Run("shape mismatch", func(t *testing.T) {
		g := newABCD(t)
		u := NewSequentialUpdater(g, SensorParams{P1: 0.8, P2: 0.2},
			VisibilityProfile{NewVisibility(), NewVisibility(), NewVisibility(), NewVisibility()}, EvidenceScalar, 0)
		before := g.Probabilities()
		err := u.Update(g, []Observation{NewObservation(), NewObservation(), NewObservation()})
		assert.ErrorIs(t, err, ErrShapeMismatch)
		assert.Equal(t, before, g.Probabilities())
		assert.Equal(t, 1, u.History.Len())
	})

	t.Run("zero evidence", func(t *testing.T) {
		g := newABCD(t)
		u := NewSequentialUpdater(g, SensorParams{}, VisibilityProfile{NewVisibility(cellA)}, EvidenceScalar, 0)
		before := g.Probabilities()
		err := u.Update(g, []Observation{NewObservation(CellSymbol(cellA))})
		assert.ErrorIs(t, err, ErrNormalization)
		assert.Equal(t, before, g.Probabilities())
		assert.Equal(t, 1, u.History.Len())
	})
}

func TestSequentialUpdate_PerCellLargeGrid(t *testing.T) {
	t.Parallel()
	g, err := grid.New(testutil.UniformIDs(60, 60))
	require.NoError(t, err)
	u := NewSequentialUpdater(g, SensorParams{P1: 0.9, P2: 0.2},
		VisibilityProfile{NewVisibility(cellA)}, EvidencePerCell, 0)

	require.NoError(t, u.Update(g, []Observation{NewObservation(CellSymbol(cellA))}))
	p := g.Probabilities()
	testutil.AssertNormalized(t, p)
	assert.InDelta(t, 0.9/(0.9+3599*0.8), p[0][0], 1e-12)
}

func TestSequentialUpdate_NilHistorySeedsFromGrid(t *testing.T) {
	t.Parallel()
	g := newABCD(t)
	u := &SequentialUpdater{Params: SensorParams{P1: 0.8, P2: 0.2}, Profile: VisibilityProfile{NewVisibility()}}
	require.NoError(t, u.Update(g, []Observation{NewObservation()}))
	assert.Equal(t, 2, u.History.Len())
}

func TestParseEvidenceModel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]EvidenceModel{"": EvidenceScalar, "scalar": EvidenceScalar, "per_cell": EvidencePerCell} {
		got, err := ParseEvidenceModel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseEvidenceModel("bogus")
	assert.Error(t, err)
}

func TestBeliefState_Retention(t *testing.T) {
	t.Parallel()
	b := NewBeliefState([][]float64{{1}}, 3)
	for i := 2; i <= 5; i++ {
		b.Append([][]float64{{float64(i)}})
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 2, b.Dropped())
	assert.Equal(t, [][][]float64{{{3}}, {{4}}, {{5}}}, b.Snapshots())

	latest := b.Latest()
	latest[0][0] = 100
	assert.Equal(t, [][]float64{{5}}, b.Latest(), "Latest returns a copy")

	unbounded := NewBeliefState([][]float64{{1}}, 0)
	for i := 0; i < 50; i++ {
		unbounded.Append([][]float64{{0}})
	}
	assert.Equal(t, 51, unbounded.Len())
	assert.Zero(t, unbounded.Dropped())

	assert.Nil(t, (&BeliefState{}).Latest())
}
