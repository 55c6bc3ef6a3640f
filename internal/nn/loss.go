package nn

import (
	"github.com/pkg/errors"

	"github.com/born-ml/embedshard/internal/tensor"
)

// MSELoss computes Mean Squared Error loss.
//
// Loss = mean((predictions - targets)²)
//
// Example:
//
//	loss, grad, err := nn.MSELoss(scores, targets)
//	// grad has the shape of scores: 2*(scores - targets)/n
func MSELoss(predictions, targets *tensor.RawTensor) (float32, *tensor.RawTensor, error) {
	if predictions == nil || targets == nil || !predictions.Shape().Equal(targets.Shape()) {
		return 0, nil, errors.Wrap(ErrInvalidShape, "MSELoss: predictions and targets must have the same shape")
	}
	if predictions.DType() != tensor.Float32 || targets.DType() != tensor.Float32 {
		return 0, nil, errors.Wrap(ErrInvalidShape, "MSELoss: predictions and targets must be float32")
	}

	p, t := predictions.AsFloat32(), targets.AsFloat32()
	grad := Zeros(predictions.Shape(), predictions.Device())
	g := grad.AsFloat32()
	n := float32(len(p))

	var sum float32
	for i := range p {
		diff := p[i] - t[i]
		sum += diff * diff
		g[i] = 2 * diff / n
	}
	return sum / n, grad, nil
}
