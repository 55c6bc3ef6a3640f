// Package optim implements the optimizer for the sharded embedding pipeline.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - FusedSGD: plain SGD for dense parameters that skips parameters already updated in
//     place during backward, with a ZeroGrad that clears every gradient in one dispatch
//
// Example usage:
//
//	opt := optim.NewFusedSGD(optim.FusedSGDConfig{LR: 0.05}, backend,
//	    optim.ParamGroup{Params: head.Parameters()},
//	    optim.ParamGroup{Params: table.Parameters()},
//	)
//
//	for step := range steps {
//	    tape.StartRecording()
//	    // ... table.Lookup, collectives, head forward and backward ...
//	    grads, err := tape.Backward(ctx, grad)
//
//	    // Update dense parameters; the table was already updated by backward.
//	    err = opt.Step(grads)
//	    opt.ZeroGrad()
//	    tape.Clear()
//	}
package optim

import (
	"github.com/born-ml/embedshard/internal/autodiff"
	"github.com/born-ml/embedshard/internal/nn"
	"github.com/born-ml/embedshard/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
//
// All optimizers must implement:
//   - Step: Apply gradient updates to parameters
//   - ZeroGrad: Clear gradients before next iteration
//   - GetLR: Get current learning rate (for monitoring/scheduling)
type Optimizer interface {
	// Step applies gradient updates to all parameters.
	//
	// Gradients are taken from grads (the result of GradientTape.Backward) and, for
	// parameters whose gradient was computed outside a tape, from Parameter.Grad.
	// Parameters updated in place during backward are skipped.
	Step(grads *autodiff.Gradients) error

	// ZeroGrad clears all parameter gradients.
	//
	// This should be called before each backward pass to prevent
	// gradient accumulation from previous iterations.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32
}

// getGradient retrieves the gradient for a parameter.
//
// Returns nil if no gradient is found (parameter wasn't part of computation graph).
func getGradient(param *nn.Parameter, grads *autodiff.Gradients) *tensor.RawTensor {
	if param == nil {
		return nil
	}
	if g := grads.Get(param.Tensor()); g != nil {
		return g
	}
	return param.Grad()
}

// updatedInPlace reports whether param must not be stepped by an optimizer.
func updatedInPlace(param *nn.Parameter, grads *autodiff.Gradients) bool {
	return param.FusedUpdate() || grads.UpdatedInPlace(param.Tensor())
}
