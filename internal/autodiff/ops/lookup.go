package ops

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/embedshard/internal/tensor"
)

// DefaultLearningRate is the step size used by DefaultUpdateRule.
const DefaultLearningRate = 0.05

// UpdateRule configures the fused update applied by LookupOp backward.
// It is passed at call time so the rate can change per step.
type UpdateRule struct {
	LearningRate float32
}

// DefaultUpdateRule returns an UpdateRule with DefaultLearningRate.
func DefaultUpdateRule() UpdateRule {
	return UpdateRule{LearningRate: DefaultLearningRate}
}

// Validate rejects non-finite or negative learning rates.
func (r UpdateRule) Validate() error {
	lr := float64(r.LearningRate)
	if math.IsNaN(lr) || math.IsInf(lr, 0) || lr < 0 {
		return errors.Wrapf(ErrInvalidUpdateRule, "learning rate %g", r.LearningRate)
	}
	return nil
}

// RowGuard serializes the in-place update against concurrent gathers of the same table.
// *sync.RWMutex satisfies it.
type RowGuard interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// LookupOp represents a sharded embedding lookup with a fused, in-place backward.
//
// Forward: output[b, t, :] = Σ_l weights[indices[b, t, l], t, :]
//
// Backward (ApplyUpdate):
//
//	weights[indices[b, t, l], t, :] -= lr * grad_output[b, t, :]
//
// The update is applied directly to the weights buffer. No gradient is produced for
// weights (the update already happened) nor for indices (integers). Rows addressed
// several times receive the sum of their contributions.
//
// Example:
//
//	indices  = [[0], [1], [0]]   // B=3, T=1: row 0 appears twice
//	grad_out = [[[1,2]], [[3,4]], [[5,6]]]
//	weights[0, 0] -= lr * ([1,2] + [5,6])
//	weights[1, 0] -= lr * [3,4]
type LookupOp struct {
	backend tensor.Backend
	weights *tensor.RawTensor // [N, T, D], mutated by ApplyUpdate
	indices *tensor.RawTensor // [B, T] or [B, T, L], retained for the update
	output  *tensor.RawTensor // [B, T, D]
	rule    UpdateRule
	guard   RowGuard // optional
	token   *UpdateToken
}

// NewLookupOp creates a lookup operation from an already computed forward output.
// guard may be nil when the caller serializes access to weights itself.
func NewLookupOp(backend tensor.Backend, weights, indices, output *tensor.RawTensor, rule UpdateRule, guard RowGuard) *LookupOp {
	return &LookupOp{
		backend: backend,
		weights: weights,
		indices: indices,
		output:  output,
		rule:    rule,
		guard:   guard,
		token:   NewUpdateToken(),
	}
}

// Kind returns KindMutating.
func (op *LookupOp) Kind() Kind {
	return KindMutating
}

// Inputs returns the weights. Indices are not differentiable.
func (op *LookupOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.weights}
}

// Output returns the gathered rows.
func (op *LookupOp) Output() *tensor.RawTensor {
	return op.output
}

// Mutated returns the weights buffer updated by ApplyUpdate.
func (op *LookupOp) Mutated() *tensor.RawTensor {
	return op.weights
}

// Indices returns the retained sparse indices.
func (op *LookupOp) Indices() *tensor.RawTensor {
	return op.indices
}

// Rule returns the update rule captured at forward time.
func (op *LookupOp) Rule() UpdateRule {
	return op.rule
}

// Token returns the single-use token guarding the update.
func (op *LookupOp) Token() *UpdateToken {
	return op.token
}

// ApplyUpdate performs the fused sparse SGD step on the addressed rows.
//
// The gradient shape is checked before the token is spent, so a shape error leaves the
// op able to update later. A second successful call is refused with
// ErrUpdateAlreadyApplied and leaves weights untouched.
func (op *LookupOp) ApplyUpdate(ctx context.Context, outputGrad *tensor.RawTensor) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "lookup backward")
	}
	if err := checkGradShape("lookup", outputGrad, op.output); err != nil {
		return err
	}
	if err := op.token.Consume(); err != nil {
		return errors.WithMessage(err, "lookup backward")
	}

	if op.guard != nil {
		op.guard.Lock()
		defer op.guard.Unlock()
	}
	klog.V(1).Infof("lookup backward: fused update of %v rows into %v (lr=%g, token %d)",
		op.indices.Shape(), op.weights.Shape(), op.rule.LearningRate, op.token.ID())
	return runKernel("lookup backward", func() {
		op.backend.FusedSparseUpdate(outputGrad, op.weights, op.indices, op.rule.LearningRate)
	})
}
