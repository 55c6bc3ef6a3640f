package autodiff

import (
	"context"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/embedshard/internal/autodiff/ops"
	"github.com/born-ml/embedshard/internal/collective"
	"github.com/born-ml/embedshard/internal/tensor"
)

// Lookup gathers rows of weights [N, T, D] addressed by indices [B, T] or [B, T, L]
// and returns the [B, T, D] result. It has no side effect on weights.
//
// Every argument, including every index, is validated before the gather is
// dispatched. When tape is recording, a LookupOp holding rule is recorded; its backward
// updates weights in place. guard, if not nil, is read-locked for the gather.
func Lookup(tape *GradientTape, backend tensor.Backend, weights, indices *tensor.RawTensor,
	rule ops.UpdateRule, guard ops.RowGuard,
) (*tensor.RawTensor, error) {
	if err := rule.Validate(); err != nil {
		return nil, errors.WithMessage(err, "lookup")
	}
	if _, err := ops.ValidateLookup(weights, indices); err != nil {
		return nil, err
	}

	var output *tensor.RawTensor
	err := exceptions.TryCatch[error](func() {
		if guard != nil {
			guard.RLock()
			defer guard.RUnlock()
		}
		output = backend.EmbeddingGather(weights, indices)
	})
	if err != nil {
		return nil, errors.Wrapf(ops.ErrKernel, "lookup: %v", err)
	}

	if tape.IsRecording() {
		tape.Record(ops.NewLookupOp(backend, weights, indices, output, rule, guard))
	}
	return output, nil
}

// ReduceScatter sums x across all ranks of comm and returns this rank's slice of
// dimension dim. It is a collective barrier.
//
// When tape is recording, a ReduceScatterOp is recorded; its backward all-gathers the
// gradient along dim.
func ReduceScatter(ctx context.Context, tape *GradientTape, comm collective.Communicator, x *tensor.RawTensor, dim int) (*tensor.RawTensor, error) {
	output, err := comm.ReduceScatter(ctx, x, dim)
	if err != nil {
		return nil, errors.WithMessagef(err, "reduce-scatter (rank %d/%d)", comm.Rank(), comm.Size())
	}
	if tape.IsRecording() {
		tape.Record(ops.NewReduceScatterOp(comm, dim, x, output))
	}
	return output, nil
}

// AllToAll reshards x [B, T, D] from table-sharded to batch-sharded layout, returning
// [B/W, T*W, D] where W is comm.Size(). It is a collective barrier.
//
// B must be divisible by W; otherwise it fails with ops.ErrIndivisibleBatch before
// anything is exchanged. When tape is recording, an AllToAllOp is recorded.
func AllToAll(ctx context.Context, tape *GradientTape, backend tensor.Backend, comm collective.Communicator, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	if x == nil {
		return nil, errors.Wrap(ops.ErrShapeMismatch, "all-to-all: nil input")
	}
	if x.DType() != tensor.Float32 {
		return nil, errors.Wrapf(ops.ErrInvalidDType, "all-to-all: input must be float32, got %s", x.DType())
	}
	want, err := ops.ButterflyShape(x.Shape(), comm.Size())
	if err != nil {
		return nil, err
	}

	output, err := comm.AllToAll(ctx, x)
	if err != nil {
		return nil, errors.WithMessagef(err, "all-to-all (rank %d/%d)", comm.Rank(), comm.Size())
	}
	if !output.Shape().Equal(want) {
		return nil, errors.Wrapf(ops.ErrShapeMismatch, "all-to-all: exchange returned %v, expected %v", output.Shape(), want)
	}
	klog.V(1).Infof("all-to-all (rank %d/%d): %v -> %v", comm.Rank(), comm.Size(), x.Shape(), output.Shape())

	if tape.IsRecording() {
		tape.Record(ops.NewAllToAllOp(backend, comm, x, output))
	}
	return output, nil
}
