// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff records the sharded embedding pipeline and runs its backward pass.
//
// Operations are either pure (reduce-scatter, all-to-all), returning input gradients,
// or mutating (lookup), applying a fused update to their table in place. The tape
// applies each update at most once.
//
// Example:
//
//	import (
//	    "github.com/born-ml/embedshard/autodiff"
//	    "github.com/born-ml/embedshard/backend/cpu"
//	)
//
//	func worker(ctx context.Context, comm collective.Communicator) error {
//	    backend := autodiff.New(cpu.New())
//	    backend.Tape().StartRecording()
//
//	    pooled, err := backend.Lookup(weights, indices, autodiff.DefaultUpdateRule(), nil)
//	    reduced, err := backend.ReduceScatter(ctx, comm, pooled, 1)
//	    local, err := backend.AllToAll(ctx, comm, reduced)
//
//	    // ... head ...
//	    grads, err := backend.Tape().Backward(ctx, gradLocal)
//	}
package autodiff

import (
	"context"

	"github.com/born-ml/embedshard/internal/autodiff"
	"github.com/born-ml/embedshard/internal/autodiff/ops"
	"github.com/born-ml/embedshard/internal/collective"
	"github.com/born-ml/embedshard/internal/tensor"
)

// Backend is the autodiff-enabled backend.
type Backend[B tensor.Backend] = autodiff.AutodiffBackend[B]

// New creates a new autodiff backend wrapping the given backend.
func New[B tensor.Backend](backend B) *Backend[B] {
	return autodiff.New(backend)
}

// GradientTape records operations for the backward pass.
type GradientTape = autodiff.GradientTape

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return autodiff.NewGradientTape()
}

// Gradients is the result of GradientTape.Backward.
type Gradients = autodiff.Gradients

// UpdateRule configures the fused update applied by lookup backward.
type UpdateRule = ops.UpdateRule

// DefaultUpdateRule returns the default fused update rule.
func DefaultUpdateRule() UpdateRule {
	return ops.DefaultUpdateRule()
}

// RowGuard serializes fused updates against concurrent gathers of a table.
type RowGuard = ops.RowGuard

// Errors returned by the embedding operations.
var (
	ErrShapeMismatch        = ops.ErrShapeMismatch
	ErrInvalidDType         = ops.ErrInvalidDType
	ErrIndexOutOfRange      = ops.ErrIndexOutOfRange
	ErrIndivisibleBatch     = ops.ErrIndivisibleBatch
	ErrInvalidUpdateRule    = ops.ErrInvalidUpdateRule
	ErrUpdateAlreadyApplied = ops.ErrUpdateAlreadyApplied
	ErrKernel               = ops.ErrKernel
)

// Lookup gathers rows of weights and records the fused-update operation on tape.
func Lookup(tape *GradientTape, backend tensor.Backend, weights, indices *tensor.RawTensor,
	rule UpdateRule, guard RowGuard,
) (*tensor.RawTensor, error) {
	return autodiff.Lookup(tape, backend, weights, indices, rule, guard)
}

// ReduceScatter runs a differentiable reduce-scatter along dim.
func ReduceScatter(ctx context.Context, tape *GradientTape, comm collective.Communicator, x *tensor.RawTensor, dim int) (*tensor.RawTensor, error) {
	return autodiff.ReduceScatter(ctx, tape, comm, x, dim)
}

// AllToAll runs the differentiable butterfly shuffle [B, T, D] -> [B/W, T*W, D].
func AllToAll(ctx context.Context, tape *GradientTape, backend tensor.Backend, comm collective.Communicator, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return autodiff.AllToAll(ctx, tape, backend, comm, x)
}
