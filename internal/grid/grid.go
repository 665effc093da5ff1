package grid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrShape is returned when a grid or probability map is empty, ragged,
	// or does not match the grid dimensions.
	ErrShape = errors.New("grid shape mismatch")
	// ErrDuplicateTag is returned when the same tag id is assigned to more
	// than one cell.
	ErrDuplicateTag = errors.New("duplicate tag id")
	// ErrNegativeProbability is returned when a probability map holds a
	// negative or non-finite value.
	ErrNegativeProbability = errors.New("invalid probability")
)

// Coord addresses one cell by row and column.
type Coord struct {
	Row int
	Col int
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d, %d)", c.Row, c.Col)
}

// Cell is one grid location. Values returned by Grid are copies.
type Cell struct {
	IDs         []string
	Coord       Coord
	Probability float64
}

// SameCell reports whether a and b describe the same grid location.
func SameCell(a, b Cell) bool {
	if a.Coord != b.Coord || len(a.IDs) != len(b.IDs) {
		return false
	}
	for i := range a.IDs {
		if a.IDs[i] != b.IDs[i] {
			return false
		}
	}
	return true
}

// CellHasID reports whether id is one of the tag ids mounted at cell.
func CellHasID(cell Cell, id string) bool {
	for _, cid := range cell.IDs {
		if cid == id {
			return true
		}
	}
	return false
}

// Grid is a fixed-size 2-D arrangement of cells with a uniform initial prior.
// Grid is not safe for concurrent mutation; callers serialize update cycles.
type Grid struct {
	rows, cols int
	cells      []Cell // row-major
	byID       map[string]Coord
}

// New builds a grid from rows of cells, each cell listing its tag ids.
// Every cell starts at probability 1/size.
func New(tagIDs [][][]string) (*Grid, error) {
	if len(tagIDs) == 0 || len(tagIDs[0]) == 0 {
		return nil, fmt.Errorf("%w: grid has no cells", ErrShape)
	}
	rows, cols := len(tagIDs), len(tagIDs[0])
	g := &Grid{
		rows:  rows,
		cols:  cols,
		cells: make([]Cell, 0, rows*cols),
		byID:  make(map[string]Coord, rows*cols),
	}
	uniform := 1 / float64(rows*cols)
	for r, row := range tagIDs {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrShape, r, len(row), cols)
		}
		for c, ids := range row {
			coord := Coord{Row: r, Col: c}
			if len(ids) == 0 {
				return nil, fmt.Errorf("%w: cell %s has no tag id", ErrShape, coord)
			}
			for _, id := range ids {
				if prev, ok := g.byID[id]; ok {
					return nil, fmt.Errorf("%w: %q at %s and %s", ErrDuplicateTag, id, prev, coord)
				}
				g.byID[id] = coord
			}
			g.cells = append(g.cells, Cell{
				IDs:         append([]string(nil), ids...),
				Coord:       coord,
				Probability: uniform,
			})
		}
	}
	return g, nil
}

// Rows returns the number of rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of columns.
func (g *Grid) Cols() int { return g.cols }

// Size returns the total number of cells.
func (g *Grid) Size() int { return len(g.cells) }

// Contains reports whether c lies inside the grid.
func (g *Grid) Contains(c Coord) bool {
	return c.Row >= 0 && c.Row < g.rows && c.Col >= 0 && c.Col < g.cols
}

// Lookup resolves a tag id to the coordinate of the cell that carries it.
func (g *Grid) Lookup(id string) (Coord, bool) {
	c, ok := g.byID[id]
	return c, ok
}

// Cell returns a copy of the cell at c.
func (g *Grid) Cell(c Coord) (Cell, bool) {
	if !g.Contains(c) {
		return Cell{}, false
	}
	cell := g.cells[c.Row*g.cols+c.Col]
	cell.IDs = append([]string(nil), cell.IDs...)
	return cell, true
}

// Coords returns every coordinate in row-major order.
func (g *Grid) Coords() []Coord {
	out := make([]Coord, len(g.cells))
	for i := range g.cells {
		out[i] = g.cells[i].Coord
	}
	return out
}

// Probabilities returns a fresh rows x cols snapshot of cell probabilities.
func (g *Grid) Probabilities() [][]float64 {
	out := make([][]float64, g.rows)
	for r := range out {
		out[r] = make([]float64, g.cols)
		for c := range out[r] {
			out[r][c] = g.cells[r*g.cols+c].Probability
		}
	}
	return out
}

// Apply replaces every cell probability with the values in p. The map must
// match the grid shape and hold finite non-negative values; on error the
// grid is left untouched.
func (g *Grid) Apply(p [][]float64) error {
	if err := g.checkShape(p); err != nil {
		return err
	}
	for r := range p {
		for c, v := range p[r] {
			g.cells[r*g.cols+c].Probability = v
		}
	}
	return nil
}

// Reset installs a new prior. Values are scaled to sum to one.
func (g *Grid) Reset(prior [][]float64) error {
	if err := g.checkShape(prior); err != nil {
		return err
	}
	flat := make([]float64, 0, len(g.cells))
	for _, row := range prior {
		flat = append(flat, row...)
	}
	sum := floats.Sum(flat)
	if sum <= 0 || math.IsInf(sum, 0) {
		return fmt.Errorf("%w: prior sums to %v", ErrNegativeProbability, sum)
	}
	for i := range g.cells {
		g.cells[i].Probability = flat[i] / sum
	}
	return nil
}

func (g *Grid) checkShape(p [][]float64) error {
	if len(p) != g.rows {
		return fmt.Errorf("%w: got %d rows, want %d", ErrShape, len(p), g.rows)
	}
	for r, row := range p {
		if len(row) != g.cols {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrShape, r, len(row), g.cols)
		}
		for c, v := range row {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %v at %s", ErrNegativeProbability, v, Coord{Row: r, Col: c})
			}
		}
	}
	return nil
}
