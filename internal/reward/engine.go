// Package reward scores forecast predictions against ground truth.
package reward

import (
	"math"
	"slices"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"

	"github.com/orpheus-ai/zeus/internal/forecast"
)

// PenalizedRMSE marks a response that was not compared to the truth.
const PenalizedRMSE = -1.0

// Engine computes rewards. It is stateless and safe for concurrent use.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Score returns one result per response, in input order. Rewards lie in
// [0, 1]: the most accurate valid response scores 1, the least accurate 0,
// and penalized responses 0. difficulty weights the squared error per cell;
// it must match a trailing suffix of the truth shape, otherwise uniform
// weighting is used.
func (e *Engine) Score(truth, difficulty forecast.Grid, responses []forecast.ResolvedResponse) []forecast.RewardResult {
	results := make([]forecast.RewardResult, len(responses))
	if len(responses) == 0 {
		return results
	}

	truthOK := truth.Valid() && !truth.IsEmpty() && truth.AllFinite()
	if !truthOK {
		log.Warn().Ints("shape", truth.Shape).Msg("ground truth is unusable, penalizing all responses")
	}
	weights := broadcastWeights(truth, difficulty)

	var (
		validIdx []int
		rmses    []float64
	)
	for i, r := range responses {
		results[i].Worker = r.Worker
		if !truthOK {
			results[i].Metrics = forecast.Metrics{Penalty: 1, RMSE: PenalizedRMSE}
			continue
		}

		pred := FormatPrediction(truth, r.Prediction)
		penalty := Penalty(truth, pred)
		if penalty > 0 {
			results[i].Metrics = forecast.Metrics{Penalty: penalty, RMSE: PenalizedRMSE}
			continue
		}

		rmse := weightedRMSE(truth.Data, pred.Data, weights)
		results[i].Metrics = forecast.Metrics{RMSE: rmse}
		validIdx = append(validIdx, i)
		rmses = append(rmses, rmse)
	}

	for k, s := range InvertedMinMax(rmses) {
		i := validIdx[k]
		results[i].Metrics.Score = s
		results[i].Reward = s
	}
	return results
}

func weightedRMSE(truth, pred, weights []float64) float64 {
	sq := make([]float64, len(truth))
	floats.SubTo(sq, pred, truth)
	floats.Mul(sq, sq)
	if weights == nil {
		return math.Sqrt(floats.Sum(sq) / float64(len(sq)))
	}
	return math.Sqrt(floats.Dot(sq, weights) / floats.Sum(weights))
}

// broadcastWeights expands difficulty over the leading axes of truth. It
// returns nil for uniform weighting.
func broadcastWeights(truth, difficulty forecast.Grid) []float64 {
	if difficulty.IsEmpty() {
		return nil
	}
	dr, tr := difficulty.Rank(), truth.Rank()
	if !difficulty.Valid() || dr > tr || !slices.Equal(difficulty.Shape, truth.Shape[tr-dr:]) {
		log.Warn().Ints("difficulty", difficulty.Shape).Ints("truth", truth.Shape).Msg("difficulty grid does not fit ground truth, using uniform weights")
		return nil
	}
	for _, v := range difficulty.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			log.Warn().Msg("difficulty grid has invalid weights, using uniform weights")
			return nil
		}
	}
	if floats.Sum(difficulty.Data) == 0 {
		return nil
	}

	n := len(difficulty.Data)
	w := make([]float64, len(truth.Data))
	for i := range w {
		w[i] = difficulty.Data[i%n]
	}
	return w
}
