package collective

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/born-ml/embedshard/internal/tensor"
)

// Peer is one rank's handle on a Group.
//
// A Peer is driven by a single goroutine: its collectives are ordered by the sequence
// number it assigns, so issuing collectives on the same Peer from several goroutines
// makes the order, and therefore the matching with other ranks, undefined.
type Peer struct {
	group *Group
	rank  int
	seq   atomic.Uint64
}

// Compile-time check that Peer implements Communicator.
var _ Communicator = (*Peer)(nil)

// Rank returns this peer's rank.
func (p *Peer) Rank() int {
	return p.rank
}

// Size returns the number of ranks in the group.
func (p *Peer) Size() int {
	return p.group.size
}

// Device returns the device collective outputs are allocated on.
func (p *Peer) Device() tensor.Device {
	return p.group.cfg.Device
}

// Group returns the process group this peer belongs to.
func (p *Peer) Group() *Group {
	return p.group
}

// Sequence returns the number of collectives this peer has dispatched.
func (p *Peer) Sequence() uint64 {
	return p.seq.Load()
}

// ReduceScatter implements Communicator.
func (p *Peer) ReduceScatter(ctx context.Context, x *tensor.RawTensor, dim int) (*tensor.RawTensor, error) {
	desc, err := p.describe(opReduceScatter, x, dim)
	if err != nil {
		return nil, err
	}
	if size := x.Shape()[dim]; size%p.Size() != 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "ReduceScatter: dimension %d of size %d is not divisible by %d ranks",
			dim, size, p.Size())
	}
	return p.dispatch(ctx, desc, x)
}

// AllGather implements Communicator.
func (p *Peer) AllGather(ctx context.Context, x *tensor.RawTensor, dim int) (*tensor.RawTensor, error) {
	desc, err := p.describe(opAllGather, x, dim)
	if err != nil {
		return nil, err
	}
	return p.dispatch(ctx, desc, x)
}

// AllToAll implements Communicator.
func (p *Peer) AllToAll(ctx context.Context, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	if x != nil && len(x.Shape()) < 2 {
		return nil, errors.Wrapf(ErrInvalidArgument, "AllToAll: input must have at least 2 dimensions, got %v", x.Shape())
	}
	desc, err := p.describe(opAllToAll, x, 0)
	if err != nil {
		return nil, err
	}
	if lead := x.Shape()[0]; lead%p.Size() != 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "AllToAll: leading dimension %d is not divisible by %d ranks",
			lead, p.Size())
	}
	return p.dispatch(ctx, desc, x)
}

// describe validates the arguments common to every collective.
func (p *Peer) describe(kind opKind, x *tensor.RawTensor, dim int) (descriptor, error) {
	if x == nil {
		return descriptor{}, errors.Wrapf(ErrInvalidArgument, "%s: nil input", kind)
	}
	if x.DType() != tensor.Float32 {
		return descriptor{}, errors.Wrapf(ErrInvalidArgument, "%s: input must be float32, got %s", kind, x.DType())
	}
	if dim < 0 || dim >= len(x.Shape()) {
		return descriptor{}, errors.Wrapf(ErrInvalidArgument, "%s: dimension %d out of range for shape %v", kind, dim, x.Shape())
	}
	return descriptor{kind: kind, dim: dim, dtype: x.DType(), shape: x.Shape().Clone()}, nil
}

// dispatch takes the next sequence number and joins the rendezvous.
func (p *Peer) dispatch(ctx context.Context, desc descriptor, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	seq := p.seq.Add(1) - 1
	return p.group.exchange(ctx, p.rank, seq, desc, x)
}
