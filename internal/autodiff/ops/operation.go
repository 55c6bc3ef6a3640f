// Package ops defines the differentiable operations of the sharded embedding pipeline.
//
// Operations come in two kinds:
//   - Pure: Backward returns the gradients of the inputs given the output gradient
//     (ReduceScatterOp, AllToAllOp).
//   - Mutating: ApplyUpdate consumes the output gradient to update a parameter in
//     place and returns nothing (LookupOp). Each mutating op owns a single-use
//     UpdateToken, so its update can never be applied twice.
//
// The tape dispatches on Kind, so a mutating op is never mistaken for one returning
// a gradient that an optimizer would apply a second time.
//
// Supported operations:
//   - LookupOp: rows of an [N, T, D] table gathered by [B, T] or [B, T, L] indices;
//     backward is a fused in-place SGD step on the addressed rows
//   - ReduceScatterOp: reduce-scatter along a dimension; backward is all-gather
//   - AllToAllOp: butterfly exchange [B, T, D] -> [B/W, T*W, D]; backward is
//     transpose, exchange, transpose
package ops

import (
	"context"

	"github.com/born-ml/embedshard/internal/tensor"
)

// Kind tags an operation as pure or mutating.
type Kind int

// Operation kinds.
const (
	KindPure Kind = iota
	KindMutating
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindPure:
		return "pure"
	case KindMutating:
		return "mutating"
	default:
		return "unknown"
	}
}

// Operation represents a node recorded in the computation graph.
type Operation interface {
	// Kind tells the tape whether to call Backward (pure) or ApplyUpdate (mutating).
	Kind() Kind

	// Inputs returns the differentiable input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// PureOperation returns input gradients from the output gradient.
type PureOperation interface {
	Operation

	// Backward returns one gradient per element of Inputs(), in the same order.
	//
	// Collective operations block until all ranks run the matching backward.
	Backward(ctx context.Context, outputGrad *tensor.RawTensor) ([]*tensor.RawTensor, error)
}

// MutatingOperation applies its own parameter update instead of returning a gradient.
type MutatingOperation interface {
	Operation

	// ApplyUpdate consumes outputGrad and updates Mutated() in place.
	// It succeeds at most once; later calls return ErrUpdateAlreadyApplied.
	ApplyUpdate(ctx context.Context, outputGrad *tensor.RawTensor) error

	// Mutated returns the parameter buffer updated by ApplyUpdate.
	Mutated() *tensor.RawTensor

	// Token returns the single-use token guarding the update.
	Token() *UpdateToken
}
