package ops

import (
	"context"

	"github.com/pkg/errors"

	"github.com/born-ml/embedshard/internal/collective"
	"github.com/born-ml/embedshard/internal/tensor"
)

// ButterflyShape returns the [B/W, T*W, D] output shape of the butterfly shuffle of a
// [B, T, D] input across world workers, or an error if the input cannot be shuffled.
func ButterflyShape(input tensor.Shape, world int) (tensor.Shape, error) {
	if len(input) != 3 {
		return nil, errors.Wrapf(ErrShapeMismatch, "all-to-all: input must be [batch, tables, dim], got %v", input)
	}
	if world < 1 {
		return nil, errors.Wrapf(ErrIndivisibleBatch, "all-to-all: invalid worker count %d", world)
	}
	if input[0]%world != 0 {
		return nil, errors.Wrapf(ErrIndivisibleBatch, "all-to-all: batch %d, workers %d", input[0], world)
	}
	return tensor.Shape{input[0] / world, input[1] * world, input[2]}, nil
}

// AllToAllOp represents the butterfly shuffle from table-sharded to batch-sharded layout.
//
// Forward: input [B, T, D] (all B samples, this worker's T tables) becomes
// [B/W, T*W, D] (this worker's B/W samples, all workers' tables):
//
//	output_r[b, src*T + t, :] = input_src[r*B/W + b, t, :]
//
// Backward: the exchange splits the leading axis, so the gradient is first brought back
// to a leading table axis, exchanged, and transposed back:
//
//	[B/W, T*W, D] -transpose-> [T*W, B/W, D] -exchange-> [T, B, D] -transpose-> [B, T, D]
type AllToAllOp struct {
	backend tensor.Backend
	comm    collective.Communicator
	input   *tensor.RawTensor
	output  *tensor.RawTensor
}

// NewAllToAllOp creates an all-to-all operation.
func NewAllToAllOp(backend tensor.Backend, comm collective.Communicator, input, output *tensor.RawTensor) *AllToAllOp {
	return &AllToAllOp{
		backend: backend,
		comm:    comm,
		input:   input,
		output:  output,
	}
}

// Kind returns KindPure.
func (op *AllToAllOp) Kind() Kind {
	return KindPure
}

// Inputs returns the input tensor.
func (op *AllToAllOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the butterfly output.
func (op *AllToAllOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward inverts the shuffle. It is a collective barrier.
func (op *AllToAllOp) Backward(ctx context.Context, outputGrad *tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := checkGradShape("all-to-all", outputGrad, op.output); err != nil {
		return nil, err
	}

	var transposed *tensor.RawTensor
	if err := runKernel("all-to-all backward", func() {
		transposed = op.backend.TransposeContiguous(outputGrad) // [T*W, B/W, D]
	}); err != nil {
		return nil, err
	}

	exchanged, err := op.comm.AllToAll(ctx, transposed) // [T, B, D]
	if err != nil {
		return nil, errors.WithMessage(err, "all-to-all backward")
	}

	var grad *tensor.RawTensor
	if err := runKernel("all-to-all backward", func() {
		grad = op.backend.TransposeContiguous(exchanged) // [B, T, D]
	}); err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{grad}, nil
}
