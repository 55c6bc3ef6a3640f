package autodiff

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/embedshard/internal/autodiff/ops"
	"github.com/born-ml/embedshard/internal/tensor"
)

// runBackward dispatches one operation on its Kind.
func runBackward(ctx context.Context, op ops.Operation, outputGrad *tensor.RawTensor, grads *Gradients) error {
	switch op.Kind() {
	case ops.KindMutating:
		m, ok := op.(ops.MutatingOperation)
		if !ok {
			return errors.Errorf("operation %T is tagged %s but has no ApplyUpdate", op, op.Kind())
		}
		if err := m.ApplyUpdate(ctx, outputGrad); err != nil {
			return err
		}
		grads.markUpdated(m.Mutated())
		return nil

	case ops.KindPure:
		p, ok := op.(ops.PureOperation)
		if !ok {
			return errors.Errorf("operation %T is tagged %s but has no Backward", op, op.Kind())
		}
		inputGrads, err := p.Backward(ctx, outputGrad)
		if err != nil {
			return err
		}
		return accumulateGrads(p.Inputs(), inputGrads, grads)

	default:
		return errors.Errorf("operation %T has unknown kind %d", op, int(op.Kind()))
	}
}

// accumulateGrads adds each input gradient to the gradient already held for that input.
func accumulateGrads(inputs, inputGrads []*tensor.RawTensor, grads *Gradients) error {
	for j, input := range inputs {
		if j >= len(inputGrads) {
			break
		}
		inputGrad := inputGrads[j]
		if inputGrad == nil {
			continue
		}
		existing, ok := grads.grads[input]
		if !ok {
			grads.set(input, inputGrad)
			continue
		}
		sum, err := addGrads(existing, inputGrad)
		if err != nil {
			return err
		}
		grads.set(input, sum)
	}
	return nil
}

// addGrads returns a + b in a new buffer.
func addGrads(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	if !a.Shape().Equal(b.Shape()) || a.DType() != tensor.Float32 || b.DType() != tensor.Float32 {
		return nil, errors.Wrapf(ops.ErrShapeMismatch, "accumulate gradients: %s%v + %s%v",
			a.DType(), a.Shape(), b.DType(), b.Shape())
	}
	sum := a.Clone()
	n := sum.NumElements()
	blas32.Axpy(1,
		blas32.Vector{N: n, Inc: 1, Data: b.AsFloat32()},
		blas32.Vector{N: n, Inc: 1, Data: sum.AsFloat32()})
	return sum, nil
}
