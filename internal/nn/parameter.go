package nn

import (
	"github.com/born-ml/embedshard/internal/autodiff/ops"
	"github.com/born-ml/embedshard/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// A parameter may carry a gradient buffer and a reference to the operation that
// produced it (its history). Parameters updated by a fused backward, such as embedding
// tables, never receive a gradient and are flagged with FusedUpdate so optimizers skip
// them.
//
// Example:
//
//	weight := nn.NewParameter("head.weight", weightTensor)
//	weight.SetGrad(grad, nil)
//	grad := weight.Grad()
type Parameter struct {
	name        string            // Parameter name (e.g., "table.weight")
	tensor      *tensor.RawTensor // The parameter buffer
	grad        *tensor.RawTensor // Gradient buffer, nil before the first backward pass
	gradOp      ops.Operation     // Operation that produced grad, nil when detached
	fusedUpdate bool              // Updated in place during backward
}

// NewParameter creates a new trainable parameter.
//
// The parameter tensor should be initialized before creating the Parameter.
// Gradient will be set during the first backward pass.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
	}
}

// NewFusedParameter creates a parameter that is updated in place during backward.
func NewFusedParameter(name string, t *tensor.RawTensor) *Parameter {
	p := NewParameter(name, t)
	p.fusedUpdate = true
	return p
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.RawTensor {
	return p.tensor
}

// FusedUpdate reports whether this parameter is updated in place during backward.
func (p *Parameter) FusedUpdate() bool {
	return p.fusedUpdate
}

// Grad returns the gradient tensor.
//
// Returns nil if no gradient has been computed yet (before backward pass).
func (p *Parameter) Grad() *tensor.RawTensor {
	return p.grad
}

// GradOp returns the operation that produced the gradient, or nil if it is detached.
func (p *Parameter) GradOp() ops.Operation {
	return p.gradOp
}

// SetGrad sets the gradient tensor and the operation that produced it.
// producer may be nil for gradients computed outside a tape.
func (p *Parameter) SetGrad(grad *tensor.RawTensor, producer ops.Operation) {
	p.grad = grad
	p.gradOp = producer
}

// DetachGrad drops the gradient's history, keeping the buffer.
func (p *Parameter) DetachGrad() {
	p.gradOp = nil
}

// ZeroGrad detaches the gradient and sets every element to zero.
// A parameter without gradient is left untouched.
func (p *Parameter) ZeroGrad() {
	if p.grad == nil {
		return
	}
	p.DetachGrad()
	clear(p.grad.Data())
}
