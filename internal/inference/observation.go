package inference

import (
	"fmt"
	"strings"

	"github.com/banshee-data/tagsearch/internal/grid"
)

// SymbolKind distinguishes cell detections from the two sentinels.
type SymbolKind int

const (
	// SymbolCell is a detection of a grid tag.
	SymbolCell SymbolKind = iota
	// SymbolTarget marks that a target tag was read.
	SymbolTarget
	// SymbolNone marks an id that matched neither the grid nor the targets.
	SymbolNone
)

// Symbol is one canonical detection entry.
type Symbol struct {
	Kind  SymbolKind
	Coord grid.Coord // set only for SymbolCell
}

var (
	TargetSymbol = Symbol{Kind: SymbolTarget}
	NoneSymbol   = Symbol{Kind: SymbolNone}
)

// CellSymbol returns the symbol for a detection of the cell at c.
func CellSymbol(c grid.Coord) Symbol {
	return Symbol{Kind: SymbolCell, Coord: c}
}

func (s Symbol) String() string {
	switch s.Kind {
	case SymbolTarget:
		return "target"
	case SymbolNone:
		return "none"
	default:
		return s.Coord.String()
	}
}

// Observation is the canonical detection set for one orientation.
// Symbols keep first-seen order with duplicates removed. Unknown lists the raw
// ids that collapsed into the none sentinel.
type Observation struct {
	Symbols []Symbol
	Unknown []string

	cells map[grid.Coord]struct{}
}

// NewObservation builds an Observation from symbols, dropping duplicates.
func NewObservation(symbols ...Symbol) Observation {
	var o Observation
	for _, s := range symbols {
		o.add(s)
	}
	return o
}

func (o *Observation) add(s Symbol) bool {
	for _, have := range o.Symbols {
		if have == s {
			return false
		}
	}
	o.Symbols = append(o.Symbols, s)
	if s.Kind == SymbolCell {
		if o.cells == nil {
			o.cells = make(map[grid.Coord]struct{})
		}
		o.cells[s.Coord] = struct{}{}
	}
	return true
}

// Contains reports whether the tag at c was detected.
func (o Observation) Contains(c grid.Coord) bool {
	_, ok := o.cells[c]
	return ok
}

// HasTarget reports whether a target tag was detected.
func (o Observation) HasTarget() bool {
	for _, s := range o.Symbols {
		if s.Kind == SymbolTarget {
			return true
		}
	}
	return false
}

// Cells returns the detected cell coordinates in detection order.
func (o Observation) Cells() []grid.Coord {
	out := make([]grid.Coord, 0, len(o.cells))
	for _, s := range o.Symbols {
		if s.Kind == SymbolCell {
			out = append(out, s.Coord)
		}
	}
	return out
}

func (o Observation) String() string {
	parts := make([]string, len(o.Symbols))
	for i, s := range o.Symbols {
		parts[i] = s.String()
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}

// TargetSet holds the ids that identify the target tag.
type TargetSet map[string]struct{}

// NewTargetSet returns a TargetSet containing ids.
func NewTargetSet(ids ...string) TargetSet {
	ts := make(TargetSet, len(ids))
	for _, id := range ids {
		ts[id] = struct{}{}
	}
	return ts
}

// Has reports whether id belongs to the target.
func (ts TargetSet) Has(id string) bool {
	_, ok := ts[id]
	return ok
}

// ParseReading canonicalizes the raw ids read at one orientation. Target ids
// become a single target sentinel, grid ids resolve to their cell, and any
// other id becomes a single none sentinel while being kept in Unknown.
// An empty reading yields an empty Observation.
func ParseReading(raw []string, g *grid.Grid, targets TargetSet) Observation {
	var o Observation
	for _, id := range raw {
		if targets.Has(id) {
			o.add(TargetSymbol)
			continue
		}
		if c, ok := g.Lookup(id); ok {
			o.add(CellSymbol(c))
			continue
		}
		o.add(NoneSymbol)
		o.Unknown = appendUnique(o.Unknown, id)
	}
	return o
}

func appendUnique(ids []string, id string) []string {
	for _, have := range ids {
		if have == id {
			return ids
		}
	}
	return append(ids, id)
}
