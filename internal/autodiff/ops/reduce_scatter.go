package ops

import (
	"context"

	"github.com/pkg/errors"

	"github.com/born-ml/embedshard/internal/collective"
	"github.com/born-ml/embedshard/internal/tensor"
)

// ReduceScatterOp represents a reduce-scatter along Dim across all ranks.
//
// Forward: output_r = slice r of (Σ_src input_src) along Dim
//
// Backward: all-gather of the output gradient along Dim, so every rank receives the
// full gradient for its whole input:
//
//	grad_input = concat_r(grad_output_r)
type ReduceScatterOp struct {
	comm   collective.Communicator
	dim    int
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewReduceScatterOp creates a reduce-scatter operation.
func NewReduceScatterOp(comm collective.Communicator, dim int, input, output *tensor.RawTensor) *ReduceScatterOp {
	return &ReduceScatterOp{
		comm:   comm,
		dim:    dim,
		input:  input,
		output: output,
	}
}

// Kind returns KindPure.
func (op *ReduceScatterOp) Kind() Kind {
	return KindPure
}

// Inputs returns the input tensor.
func (op *ReduceScatterOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the scattered partition.
func (op *ReduceScatterOp) Output() *tensor.RawTensor {
	return op.output
}

// Dim returns the scattered dimension.
func (op *ReduceScatterOp) Dim() int {
	return op.dim
}

// Backward all-gathers the output gradient. It is a collective barrier.
func (op *ReduceScatterOp) Backward(ctx context.Context, outputGrad *tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := checkGradShape("reduce-scatter", outputGrad, op.output); err != nil {
		return nil, err
	}
	grad, err := op.comm.AllGather(ctx, outputGrad, op.dim)
	if err != nil {
		return nil, errors.WithMessage(err, "reduce-scatter backward")
	}
	return []*tensor.RawTensor{grad}, nil
}
