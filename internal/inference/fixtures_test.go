package inference

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagsearch/internal/grid"
)

var (
	cellA = grid.Coord{Row: 0, Col: 0}
	cellB = grid.Coord{Row: 0, Col: 1}
	cellC = grid.Coord{Row: 1, Col: 0}
	cellD = grid.Coord{Row: 1, Col: 1}
)

// newABCD returns the 2x2 grid A B / C D with a uniform prior.
func newABCD(t *testing.T) *grid.Grid {
	t.Helper()
	g, err := grid.New([][][]string{
		{{"A"}, {"B"}},
		{{"C"}, {"D"}},
	})
	require.NoError(t, err)
	return g
}
