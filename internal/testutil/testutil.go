// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the probability-grid assertions used by the
// inference, search and heatmap tests.
package testutil

import (
	"fmt"
	"math"
	"testing"
)

// SumTolerance is the allowed drift from one for a normalized grid.
const SumTolerance = 1e-9

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertNormalized checks that every value is finite and non-negative and
// that the grid sums to one within SumTolerance.
func AssertNormalized(t *testing.T, p [][]float64) {
	t.Helper()
	sum := 0.0
	for r, row := range p {
		for c, v := range row {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("value at (%d, %d) = %v, want finite and >= 0", r, c, v)
			}
			sum += v
		}
	}
	if math.Abs(sum-1) > SumTolerance {
		t.Errorf("grid sums to %.12f, want 1", sum)
	}
}

// UniformIDs builds rows x cols single-id cells named "r<row>c<col>".
func UniformIDs(rows, cols int) [][][]string {
	out := make([][][]string, rows)
	for r := range out {
		out[r] = make([][]string, cols)
		for c := range out[r] {
			out[r][c] = []string{cellID(r, c)}
		}
	}
	return out
}

func cellID(r, c int) string {
	return fmt.Sprintf("r%dc%d", r, c)
}
