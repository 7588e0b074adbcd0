package scoring

import (
	"context"

	"github.com/vigilstack/vigil-agent/internal/models"
)

// BaselineModel returns the heuristic scoring function used when no trained
// model is plugged in. It blends the hottest pressure dimension with the
// overall load picture, so a single saturated signal or broad elevation both
// score high. Pure, side-effect free, returns in [0,1].
func BaselineModel() ScoreFunc {
	return func(ctx context.Context, vec models.FeatureVector) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		cpu := vec.Values[models.FeatureCPU]
		mem := vec.Values[models.FeatureMemory]
		thermal := vec.Values[models.FeatureThermal]

		batteryPressure := 0.0
		if vec.Values[models.FeatureCharging] == 0 {
			batteryPressure = 1 - vec.Values[models.FeatureBattery]
		}

		peak := cpu
		for _, v := range []float64{mem, thermal, batteryPressure} {
			if v > peak {
				peak = v
			}
		}

		blend := 0.35*cpu + 0.35*mem + 0.2*thermal + 0.1*batteryPressure

		score := 0.7*peak + 0.3*blend
		if score > 1 {
			score = 1
		}
		return score, nil
	}
}
