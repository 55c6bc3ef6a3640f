// Package autodiff records the sharded embedding pipeline and runs its backward pass.
//
// AutodiffBackend wraps any Backend implementation and adds a GradientTape. Its
// Lookup, ReduceScatter and AllToAll run the forward computation, validate every
// argument before anything is dispatched, and record the matching operation while the
// tape is recording.
//
// Architecture:
//   - Decorator pattern: AutodiffBackend[B] wraps any Backend implementation
//   - GradientTape: records pure and mutating operations during forward pass
//   - Pure ops (ReduceScatter, AllToAll) return input gradients during backward
//   - Mutating ops (Lookup) update their table in place and return nothing
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//
//	pooled, _ := backend.Lookup(weights, indices, ops.DefaultUpdateRule(), guard)
//	reduced, _ := backend.ReduceScatter(ctx, comm, pooled, 1)
//	local, _ := backend.AllToAll(ctx, comm, reduced)
//
//	// ... head forward and backward produce grad for local ...
//	grads, _ := backend.Tape().Backward(ctx, grad)
//	grads.UpdatedInPlace(weights) // true: the table was updated during backward
package autodiff

import (
	"context"

	"github.com/born-ml/embedshard/internal/autodiff/ops"
	"github.com/born-ml/embedshard/internal/collective"
	"github.com/born-ml/embedshard/internal/tensor"
)

// AutodiffBackend wraps a Backend and records embedding operations in a GradientTape.
// Plain Backend calls pass through unrecorded.
//
// Type parameter B must satisfy the tensor.Backend interface.
type AutodiffBackend[B tensor.Backend] struct {
	inner B             // Wrapped backend
	tape  *GradientTape // Records operations for backpropagation
}

// New creates a new AutodiffBackend wrapping the given backend.
func New[B tensor.Backend](backend B) *AutodiffBackend[B] {
	return &AutodiffBackend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
// Useful for:
//   - Starting/stopping recording
//   - Clearing tape between steps
//   - Running the backward pass
func (b *AutodiffBackend[B]) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend for direct access.
func (b *AutodiffBackend[B]) Inner() B {
	return b.inner
}

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device.
func (b *AutodiffBackend[B]) Device() tensor.Device {
	return b.inner.Device()
}

// EmbeddingGather passes through to the wrapped backend without recording.
func (b *AutodiffBackend[B]) EmbeddingGather(weights, indices *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.EmbeddingGather(weights, indices)
}

// FusedSparseUpdate passes through to the wrapped backend without recording.
func (b *AutodiffBackend[B]) FusedSparseUpdate(grad, weights, indices *tensor.RawTensor, lr float32) {
	b.inner.FusedSparseUpdate(grad, weights, indices, lr)
}

// TransposeContiguous passes through to the wrapped backend without recording.
func (b *AutodiffBackend[B]) TransposeContiguous(x *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.TransposeContiguous(x)
}

// ZeroMany passes through to the wrapped backend.
func (b *AutodiffBackend[B]) ZeroMany(tensors []*tensor.RawTensor) {
	b.inner.ZeroMany(tensors)
}

// Lookup gathers rows of weights and records a LookupOp. See the package-level Lookup.
func (b *AutodiffBackend[B]) Lookup(weights, indices *tensor.RawTensor, rule ops.UpdateRule, guard ops.RowGuard) (*tensor.RawTensor, error) {
	return Lookup(b.tape, b.inner, weights, indices, rule, guard)
}

// ReduceScatter runs a reduce-scatter and records a ReduceScatterOp. See the package-level ReduceScatter.
func (b *AutodiffBackend[B]) ReduceScatter(ctx context.Context, comm collective.Communicator, x *tensor.RawTensor, dim int) (*tensor.RawTensor, error) {
	return ReduceScatter(ctx, b.tape, comm, x, dim)
}

// AllToAll runs the butterfly shuffle and records an AllToAllOp. See the package-level AllToAll.
func (b *AutodiffBackend[B]) AllToAll(ctx context.Context, comm collective.Communicator, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return AllToAll(ctx, b.tape, b.inner, comm, x)
}
