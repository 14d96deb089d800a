package training

import (
	"context"

	perr "tinker/internal/platform/errors"
	"tinker/types"
)

// weightedLossFn is the built-in loss that scales per-token logprobs by the
// "weights" tensor attached to each datum
const weightedLossFn = "weighted_logprob"

// LossFn computes per-datum weight tensors and metrics from the forward-pass
// logprobs. The returned weights slice must match data 1:1
type LossFn func(data []types.Datum, logprobs []types.TensorData) (weights []types.TensorData, metrics map[string]float64, err error)

// ForwardBackwardCustom runs a user-defined loss: a forward pass produces
// logprobs, the loss function turns them into per-datum weights, and a
// weighted backward pass accumulates the gradients. Two passes, one seq slot
// each; the forward logprobs are what the loss differentiates through
func (s *Service) ForwardBackwardCustom(
	ctx context.Context, data []types.Datum, lossFn LossFn,
) (*types.ForwardBackwardResult, error) {
	const op = "ForwardBackwardCustom"
	if lossFn == nil {
		return nil, perr.WithOp(perr.Validationf("nil loss function"), op)
	}

	fwd, err := s.Forward(ctx, data)
	if err != nil {
		return nil, err
	}
	logprobs := make([]types.TensorData, len(fwd.PerDatum))
	for i, d := range fwd.PerDatum {
		logprobs[i] = d.Logprobs
	}

	weights, lossMetrics, err := lossFn(data, logprobs)
	if err != nil {
		return nil, perr.WithOp(perr.Wrapf(err, perr.KindRequestFailed, "custom loss function"), op)
	}
	if len(weights) != len(data) {
		return nil, perr.WithOp(perr.Validationf(
			"loss function returned %d weight tensors for %d data", len(weights), len(data)), op)
	}

	weighted := make([]types.Datum, len(data))
	for i, d := range data {
		inputs := make(map[string]types.TensorData, len(d.LossFnInputs)+1)
		for k, v := range d.LossFnInputs {
			inputs[k] = v
		}
		inputs["weights"] = weights[i]
		weighted[i] = types.Datum{ModelInput: d.ModelInput, LossFnInputs: inputs}
	}

	res, err := s.ForwardBackward(ctx, weighted, weightedLossFn)
	if err != nil {
		return nil, err
	}
	if len(lossMetrics) > 0 {
		if res.Metrics == nil {
			res.Metrics = map[string]float64{}
		}
		for k, v := range lossMetrics {
			res.Metrics[k] = v
		}
	}
	return res, nil
}
