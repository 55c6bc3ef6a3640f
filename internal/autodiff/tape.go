package autodiff

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/embedshard/internal/autodiff/ops"
	"github.com/born-ml/embedshard/internal/tensor"
)

// GradientTape records operations during the forward pass and runs them in reverse
// during the backward pass.
//
// Pure operations return input gradients, which are accumulated per tensor. Mutating
// operations consume their output gradient to update a parameter in place; the tape
// reports those parameters through Gradients.UpdatedInPlace instead of a gradient.
//
// A tape belongs to one worker goroutine and is not safe for concurrent use.
//
// Usage:
//
//	tape := NewGradientTape()
//	tape.StartRecording()
//	// ... Lookup, ReduceScatter, AllToAll ...
//	grads, err := tape.Backward(ctx, outputGrad)
type GradientTape struct {
	operations []ops.Operation // Recorded operations (in execution order)
	recording  bool            // Whether tape is currently recording
}

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{
		operations: make([]ops.Operation, 0, 8),
		recording:  false,
	}
}

// StartRecording enables operation recording.
func (t *GradientTape) StartRecording() {
	t.recording = true
}

// StopRecording disables operation recording.
func (t *GradientTape) StopRecording() {
	t.recording = false
}

// IsRecording returns true if the tape is currently recording operations.
// A nil tape never records.
func (t *GradientTape) IsRecording() bool {
	return t != nil && t.recording
}

// Record adds an operation to the tape.
// Only records if the tape is currently recording.
func (t *GradientTape) Record(op ops.Operation) {
	if t.IsRecording() {
		t.operations = append(t.operations, op)
	}
}

// Clear resets the tape, removing all recorded operations.
// Recording state is preserved.
func (t *GradientTape) Clear() {
	clear(t.operations)
	t.operations = t.operations[:0]
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int {
	return len(t.operations)
}

// Operations returns the recorded operations in execution order.
func (t *GradientTape) Operations() []ops.Operation {
	return t.operations
}

// Backward walks the tape in reverse, seeding the output of the last recorded operation
// with outputGrad.
//
// Before any work, every mutating operation on the tape must still hold an unspent
// update token; otherwise Backward fails with ops.ErrUpdateAlreadyApplied and nothing
// is touched. This is what keeps a second Backward over the same tape from applying the
// fused updates twice.
//
// Collective operations on the tape are barriers: every worker must run Backward over
// a tape with the same sequence of collectives. An error from any operation stops the
// walk and is returned; updates of mutating operations later on the walk are not applied.
func (t *GradientTape) Backward(ctx context.Context, outputGrad *tensor.RawTensor) (*Gradients, error) {
	grads := newGradients()
	if len(t.operations) == 0 {
		return grads, nil
	}
	if outputGrad == nil {
		return nil, errors.Wrap(ops.ErrShapeMismatch, "backward: nil output gradient")
	}
	for i, op := range t.operations {
		if m, ok := op.(ops.MutatingOperation); ok && m.Token().Spent() {
			return nil, errors.Wrapf(ops.ErrUpdateAlreadyApplied,
				"backward: operation %d already applied its update (token %d)", i, m.Token().ID())
		}
	}

	// Stop recording during backward pass to prevent recording gradient operations
	wasRecording := t.recording
	t.recording = false
	defer func() {
		t.recording = wasRecording
	}()

	lastOp := t.operations[len(t.operations)-1]
	grads.set(lastOp.Output(), outputGrad)

	for i := len(t.operations) - 1; i >= 0; i-- {
		op := t.operations[i]
		opGrad, ok := grads.grads[op.Output()]
		if !ok {
			continue
		}
		if err := runBackward(ctx, op, opGrad, grads); err != nil {
			return nil, errors.WithMessagef(err, "backward: operation %d (%s)", i, op.Kind())
		}
	}

	klog.V(1).Infof("backward: %d operations, %d gradients, %d parameters updated in place",
		len(t.operations), len(grads.grads), len(grads.updated))
	return grads, nil
}
