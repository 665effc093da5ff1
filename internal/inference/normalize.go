package inference

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Normalize divides every value by the grid total. It fails with
// ErrNormalization when the total is zero, negative or not finite, when
// any single value is negative or NaN, or when a result is not finite.
func Normalize(values [][]float64) ([][]float64, error) {
	flat := make([]float64, 0, len(values)*rowLen(values))
	for r, row := range values {
		for c, v := range row {
			if v < 0 || math.IsNaN(v) {
				return nil, fmt.Errorf("%w: value %v at (%d, %d)", ErrNormalization, v, r, c)
			}
		}
		flat = append(flat, row...)
	}
	if len(flat) == 0 {
		return nil, fmt.Errorf("%w: empty grid", ErrNormalization)
	}
	sum := floats.Sum(flat)
	if sum <= 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		return nil, fmt.Errorf("%w: total %v", ErrNormalization, sum)
	}
	// Divide rather than scale by 1/sum: the reciprocal of a subnormal
	// total overflows.
	for i, v := range flat {
		q := v / sum
		if math.IsNaN(q) || math.IsInf(q, 0) {
			return nil, fmt.Errorf("%w: %v / %v is not finite", ErrNormalization, v, sum)
		}
		flat[i] = q
	}

	out := make([][]float64, len(values))
	i := 0
	for r, row := range values {
		out[r] = flat[i : i+len(row) : i+len(row)]
		i += len(row)
	}
	return out, nil
}

// NormalizeLog normalizes values given as natural logs. The largest log is
// shifted to zero before exponentiating, so products too small to represent
// still normalize. A grid where every log is -Inf is all zero and fails
// like Normalize does.
func NormalizeLog(logs [][]float64) ([][]float64, error) {
	maxLog := math.Inf(-1)
	for r, row := range logs {
		for c, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 1) {
				return nil, fmt.Errorf("%w: log value %v at (%d, %d)", ErrNormalization, v, r, c)
			}
			maxLog = math.Max(maxLog, v)
		}
	}
	out := make([][]float64, len(logs))
	for r, row := range logs {
		out[r] = make([]float64, len(row))
		if math.IsInf(maxLog, -1) {
			continue
		}
		for c, v := range row {
			out[r][c] = math.Exp(v - maxLog)
		}
	}
	return Normalize(out)
}

func rowLen(values [][]float64) int {
	if len(values) == 0 {
		return 0
	}
	return len(values[0])
}

func clone(p [][]float64) [][]float64 {
	out := make([][]float64, len(p))
	for r := range p {
		out[r] = append([]float64(nil), p[r]...)
	}
	return out
}
