package optim

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas/blas32"
	"k8s.io/klog/v2"

	"github.com/born-ml/embedshard/internal/autodiff"
	"github.com/born-ml/embedshard/internal/nn"
	"github.com/born-ml/embedshard/internal/tensor"
)

// DefaultLR is the learning rate used when FusedSGDConfig.LR is zero.
const DefaultLR = 0.01

// ErrGradientMismatch is returned by Step when a gradient does not match its parameter.
var ErrGradientMismatch = errors.New("optim: gradient does not match parameter")

// ParamGroup is a set of parameters sharing one learning rate.
type ParamGroup struct {
	Params []*nn.Parameter
	LR     float32 // Zero means the optimizer's learning rate
}

// FusedSGDConfig holds configuration for FusedSGD.
type FusedSGDConfig struct {
	LR float32 // Learning rate (default: 0.01)
}

// FusedSGD implements plain Stochastic Gradient Descent alongside fused in-place updates.
//
// Update rule for dense parameters:
//
//	param = param - lr * gradient
//
// Parameters updated in place during backward (embedding tables) are skipped by Step,
// so their update is never applied twice.
//
// ZeroGrad zeroes every existing gradient of every group with a single
// Backend.ZeroMany dispatch instead of one pass per parameter.
type FusedSGD struct {
	groups  []ParamGroup
	lr      float32
	backend tensor.Backend
}

// NewFusedSGD creates a new FusedSGD optimizer over the given parameter groups.
func NewFusedSGD(config FusedSGDConfig, backend tensor.Backend, groups ...ParamGroup) *FusedSGD {
	if config.LR == 0 {
		config.LR = DefaultLR
	}
	return &FusedSGD{
		groups:  groups,
		lr:      config.LR,
		backend: backend,
	}
}

// Groups returns the parameter groups.
func (s *FusedSGD) Groups() []ParamGroup {
	return s.groups
}

// Step performs a single optimization step: param -= lr * grad for every dense parameter
// with a gradient.
//
// Parameters with no gradient, and parameters updated in place during backward, are
// skipped. Every gradient is checked before the first parameter is written, so a
// mismatch leaves all parameters untouched.
func (s *FusedSGD) Step(grads *autodiff.Gradients) error {
	type update struct {
		param *nn.Parameter
		grad  *tensor.RawTensor
		lr    float32
	}
	var updates []update
	var skipped int
	for _, group := range s.groups {
		lr := group.LR
		if lr == 0 {
			lr = s.lr
		}
		for _, param := range group.Params {
			if updatedInPlace(param, grads) {
				skipped++
				continue
			}
			grad := getGradient(param, grads)
			if grad == nil {
				// Parameter didn't participate in forward pass, skip
				continue
			}
			if !grad.Shape().Equal(param.Tensor().Shape()) || grad.DType() != tensor.Float32 {
				return errors.Wrapf(ErrGradientMismatch, "%s: parameter %v, gradient %s%v",
					param.Name(), param.Tensor().Shape(), grad.DType(), grad.Shape())
			}
			updates = append(updates, update{param: param, grad: grad, lr: lr})
		}
	}

	for _, u := range updates {
		n := u.grad.NumElements()
		blas32.Axpy(-u.lr,
			blas32.Vector{N: n, Inc: 1, Data: u.grad.AsFloat32()},
			blas32.Vector{N: n, Inc: 1, Data: u.param.Tensor().AsFloat32()})
	}
	klog.V(2).Infof("fused sgd: stepped %d parameters, skipped %d updated in place", len(updates), skipped)
	return nil
}

// ZeroGrad zeroes every existing gradient buffer across all groups in one dispatch.
//
// Parameters without gradient are left untouched, and nothing is dispatched when no
// parameter has one. Gradients are detached from the operations that produced them.
// The end state is the same as calling Parameter.ZeroGrad on each parameter.
func (s *FusedSGD) ZeroGrad() {
	var buffers []*tensor.RawTensor
	seen := make(map[*tensor.RawTensor]struct{})
	for _, group := range s.groups {
		for _, param := range group.Params {
			grad := param.Grad()
			if grad == nil {
				continue
			}
			param.DetachGrad()
			if _, ok := seen[grad]; ok {
				continue
			}
			seen[grad] = struct{}{}
			buffers = append(buffers, grad)
		}
	}
	if len(buffers) == 0 {
		return
	}
	s.backend.ZeroMany(buffers)
}

// GetLR returns the current learning rate.
func (s *FusedSGD) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate of groups without their own rate.
func (s *FusedSGD) SetLR(lr float32) {
	s.lr = lr
}

// Compile-time check that FusedSGD implements Optimizer.
var _ Optimizer = (*FusedSGD)(nil)
