package ops

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/born-ml/embedshard/internal/tensor"
)

// ValidateLookup checks weights [N, T, D] and indices [B, T] or [B, T, L] before any
// kernel is dispatched. It returns the [B, T, D] shape of the gathered rows.
func ValidateLookup(weights, indices *tensor.RawTensor) (tensor.Shape, error) {
	if weights == nil || indices == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "lookup: nil weights or indices")
	}
	if weights.DType() != tensor.Float32 {
		return nil, errors.Wrapf(ErrInvalidDType, "lookup: weights must be float32, got %s", weights.DType())
	}
	if !indices.DType().IsIndex() {
		return nil, errors.Wrapf(ErrInvalidDType, "lookup: indices must be int32 or int64, got %s", indices.DType())
	}
	ws, is := weights.Shape(), indices.Shape()
	if len(ws) != 3 {
		return nil, errors.Wrapf(ErrShapeMismatch, "lookup: weights must be [num_embeddings, num_tables, embedding_dim], got %v", ws)
	}
	if len(is) != 2 && len(is) != 3 {
		return nil, errors.Wrapf(ErrShapeMismatch, "lookup: indices must be [batch, num_tables] or [batch, num_tables, bag], got %v", is)
	}
	if is[1] != ws[1] {
		return nil, errors.Wrapf(ErrShapeMismatch, "lookup: indices %v address %d tables, weights %v hold %d", is, is[1], ws, ws[1])
	}

	numEmbeddings := ws[0]
	n := indices.NumElements()
	for i := 0; i < n; i++ {
		if idx := indices.IndexAt(i); idx < 0 || idx >= numEmbeddings {
			return nil, errors.Wrapf(ErrIndexOutOfRange, "lookup: index %d at position %d, table has %d rows", idx, i, numEmbeddings)
		}
	}
	return tensor.Shape{is[0], ws[1], ws[2]}, nil
}

// checkGradShape verifies that an output gradient matches the forward output.
func checkGradShape(op string, grad, output *tensor.RawTensor) error {
	if grad == nil {
		return errors.Wrapf(ErrShapeMismatch, "%s backward: nil output gradient", op)
	}
	if grad.DType() != tensor.Float32 {
		return errors.Wrapf(ErrInvalidDType, "%s backward: gradient must be float32, got %s", op, grad.DType())
	}
	if !grad.Shape().Equal(output.Shape()) {
		return errors.Wrapf(ErrShapeMismatch, "%s backward: gradient shape %v, output shape %v", op, grad.Shape(), output.Shape())
	}
	return nil
}

// runKernel converts a kernel panic into an ErrKernel error.
func runKernel(op string, fn func()) error {
	if err := exceptions.TryCatch[error](fn); err != nil {
		return errors.Wrapf(ErrKernel, "%s: %v", op, err)
	}
	return nil
}
