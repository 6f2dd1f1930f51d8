package reward

import (
	"slices"

	"github.com/orpheus-ai/zeus/internal/forecast"
)

// FormatPrediction fixes near-miss prediction shapes against the truth shape.
// A trailing singleton axis is squeezed, and a last axis carrying two extra
// leading channels (lat, lon echoed back) is sliced down. Anything else is
// returned as-is and later penalized.
func FormatPrediction(truth, pred forecast.Grid) forecast.Grid {
	if truth.SameShape(pred) || !pred.Valid() {
		return pred
	}

	tr, pr := truth.Rank(), pred.Rank()

	if pr == tr+1 && pred.Shape[pr-1] == 1 && slices.Equal(pred.Shape[:tr], truth.Shape) {
		return forecast.Grid{Shape: slices.Clone(truth.Shape), Data: pred.Data}
	}

	if pr == tr && tr > 0 &&
		slices.Equal(pred.Shape[:tr-1], truth.Shape[:tr-1]) &&
		pred.Shape[tr-1] == truth.Shape[tr-1]+2 {
		last := pred.Shape[tr-1]
		keep := truth.Shape[tr-1]
		rows := len(pred.Data) / last
		out := make([]float64, 0, rows*keep)
		for r := range rows {
			out = append(out, pred.Data[r*last+2:(r+1)*last]...)
		}
		return forecast.Grid{Shape: slices.Clone(truth.Shape), Data: out}
	}

	return pred
}

// Penalty is 1 when the prediction cannot be compared to the truth.
func Penalty(truth, pred forecast.Grid) float64 {
	if !pred.SameShape(truth) || !pred.Valid() || !pred.AllFinite() {
		return 1
	}
	return 0
}
