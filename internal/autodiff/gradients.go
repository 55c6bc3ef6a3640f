package autodiff

import "github.com/born-ml/embedshard/internal/tensor"

// Gradients is the result of GradientTape.Backward.
//
// Tensors consumed by pure operations get an accumulated gradient. Parameters consumed
// by mutating operations were already updated in place and get no gradient at all, not
// even a zero placeholder; they are listed by Updated instead, so an optimizer can skip
// them.
type Gradients struct {
	grads      map[*tensor.RawTensor]*tensor.RawTensor
	updated    []*tensor.RawTensor
	updatedSet map[*tensor.RawTensor]struct{}
}

func newGradients() *Gradients {
	return &Gradients{
		grads:      make(map[*tensor.RawTensor]*tensor.RawTensor),
		updatedSet: make(map[*tensor.RawTensor]struct{}),
	}
}

func (g *Gradients) set(t, grad *tensor.RawTensor) {
	g.grads[t] = grad
}

func (g *Gradients) markUpdated(t *tensor.RawTensor) {
	if _, ok := g.updatedSet[t]; ok {
		return
	}
	g.updatedSet[t] = struct{}{}
	g.updated = append(g.updated, t)
}

// Get returns the gradient of t, or nil if none flowed to it.
func (g *Gradients) Get(t *tensor.RawTensor) *tensor.RawTensor {
	if g == nil {
		return nil
	}
	return g.grads[t]
}

// Len returns the number of tensors holding a gradient.
func (g *Gradients) Len() int {
	if g == nil {
		return 0
	}
	return len(g.grads)
}

// UpdatedInPlace reports whether t was updated by a mutating operation during backward.
func (g *Gradients) UpdatedInPlace(t *tensor.RawTensor) bool {
	if g == nil {
		return false
	}
	_, ok := g.updatedSet[t]
	return ok
}

// Updated returns the parameters updated in place, in the order their updates ran.
func (g *Gradients) Updated() []*tensor.RawTensor {
	if g == nil {
		return nil
	}
	return g.updated
}
