package reward

import (
	"gonum.org/v1/gonum/floats"
)

// InvertedMinMax maps errors to [0, 1] with the smallest error scoring 1.
// When every error is equal all scores are 1.
func InvertedMinMax(errs []float64) []float64 {
	result := make([]float64, len(errs))
	if len(errs) == 0 {
		return result
	}
	copy(result, errs)

	minErr := floats.Min(result)
	maxErr := floats.Max(result)

	if maxErr != minErr {
		floats.Scale(-1, result)
		floats.AddConst(maxErr, result)
		floats.Scale(1.0/(maxErr-minErr), result)
	} else {
		floats.Scale(0, result)
		floats.AddConst(1, result)
	}

	return result
}
