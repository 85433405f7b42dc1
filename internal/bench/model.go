package bench

import (
	"context"

	"collbench/internal/mst"
	"collbench/internal/operation"
	"collbench/internal/sampling"
)

// modelSizes returns the broadcast sizes, in elements, the cost model is
// fitted at.
func modelSizes(count int) []int {
	if count > 1 {
		return []int{1, count}
	}
	return []int{1, 2}
}

// fitModel fits the alpha-beta model to tree broadcasts at two sizes and,
// if it ran, to MPI_Reduce_alt, then prints a prediction next to the
// median of every tree result. Broadcast sizes the run did not measure are
// measured here. Every rank calls it with the same ops; only the
// coordinator has results and gets a model back.
func (r *runner) fitModel(ctx context.Context, ctrl *sampling.Controller, buffers *operation.Buffers, ops []operation.Operation, count int, results []*sampling.Result) (*mst.Model, error) {
	p := r.g.Size()
	ran := map[string]bool{}
	for _, op := range ops {
		if op.Kind() == operation.KindTree {
			ran[op.Name()] = true
		}
	}
	if len(ran) == 0 || p < 2 {
		return nil, nil
	}

	byName := make(map[string]*sampling.Result, len(results))
	for _, res := range results {
		byName[res.Name] = res
	}

	var points []mst.Point
	for _, n := range modelSizes(count) {
		res := byName[operation.BcastAlt]
		if n != count || !ran[operation.BcastAlt] {
			var err error
			if res, err = r.measure(ctx, ctrl, operation.BcastAltAt(n), buffers); err != nil {
				return nil, err
			}
		}
		if res != nil {
			points = append(points, mst.Point{P: p, N: float64(n), T: res.Median * 1e-6})
		}
	}
	if !r.coordinator() {
		return nil, nil
	}

	model, err := mst.Fit(points)
	if err != nil {
		r.log.Warn("cost model not fitted", "err", err)
		return nil, nil
	}
	if res := byName[operation.ReduceAlt]; res != nil {
		model = model.FitGamma([]mst.Point{{P: p, N: float64(count), T: res.Median * 1e-6}})
	}
	r.log.Info("cost model fitted", "alpha", model.Alpha, "beta", model.Beta, "gamma", model.Gamma)

	// predictions are printed in microseconds, like the medians
	r.printf("Cost model: alpha = %.6f beta = %.6f gamma = %.6f", model.Alpha*1e6, model.Beta*1e6, model.Gamma*1e6)
	for _, res := range results {
		var predicted float64
		switch res.Name {
		case operation.BcastAlt:
			predicted = model.Bcast(p, float64(count))
		case operation.ReduceAlt:
			predicted = model.Reduce(p, float64(count))
		case operation.GatherAlt:
			predicted = model.Gather(p, float64(count*p))
		default:
			continue
		}
		r.printf("%s: model prediction = %.6f, measured median = %.6f", res.Name, predicted*1e6, res.Median)
	}
	return &model, nil
}
