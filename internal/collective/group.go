// Package collective implements an in-process process group and the three collective
// entry points used for embedding resharding: reduce-scatter, all-gather and all-to-all.
//
// Every rank of a Group is driven by its own goroutine through a Peer. Collectives are
// barriers: a rank blocks until all ranks issue the matching call. Calls are matched by
// a per-rank sequence number, and each round carries a descriptor (operation, dimension,
// dtype, shape) that all ranks must agree on. A mismatch fails fast with
// ErrDesynchronized instead of silently exchanging the wrong buffers. A rank that waits
// longer than Config.Timeout, or whose context is done, fails with ErrTimeout or
// ErrCanceled. Any of these breaks the group for every rank.
//
// Architecture:
//   - Group: owns the rendezvous table (sequence number -> round) and the broken state.
//   - Peer: one rank's handle. Implements Communicator.
//   - round: inputs from every rank; the last rank to arrive computes all outputs.
package collective

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/embedshard/internal/tensor"
)

// Topology exposes a worker's position in the process group.
type Topology interface {
	// Rank is this worker's index in [0, Size()).
	Rank() int
	// Size is the number of workers W.
	Size() int
	// Device buffers are allocated on.
	Device() tensor.Device
}

// Communicator runs collectives for one rank.
//
// Every rank must issue the same collectives, with the same arguments and in the same
// order. Inputs are float32.
type Communicator interface {
	Topology

	// ReduceScatter sums x across ranks and returns slice Rank() of dimension dim.
	// x.Shape()[dim] must be divisible by Size(); the result has shape[dim] / Size().
	ReduceScatter(ctx context.Context, x *tensor.RawTensor, dim int) (*tensor.RawTensor, error)

	// AllGather concatenates every rank's x along dim, in rank order.
	// The result has shape[dim] * Size() and is identical on all ranks.
	AllGather(ctx context.Context, x *tensor.RawTensor, dim int) (*tensor.RawTensor, error)

	// AllToAll exchanges the leading axis: x [L, M, ...] with L divisible by Size() becomes
	// [L/Size(), M*Size(), ...], where chunk r of the leading axis of rank src lands in
	// columns [src*M, (src+1)*M) of axis 1 on rank r.
	AllToAll(ctx context.Context, x *tensor.RawTensor) (*tensor.RawTensor, error)
}

// round is one rendezvous, keyed by sequence number.
type round struct {
	seq       uint64
	desc      descriptor
	first     int // rank that opened the round
	inputs    []*tensor.RawTensor
	arrived   int
	outputs   []*tensor.RawTensor
	collected int
	err       error
	done      *latch
}

// Group is an in-process process group of Size() ranks.
type Group struct {
	id    uuid.UUID
	size  int
	cfg   Config
	peers []*Peer

	mu     sync.Mutex
	rounds map[uint64]*round
	broken error
}

// NewGroup creates a process group with size ranks.
func NewGroup(size int, cfg Config) (*Group, error) {
	if size < 1 {
		return nil, errors.Wrapf(ErrInvalidArgument, "group size must be >= 1, got %d", size)
	}
	if cfg.Timeout < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "timeout must be >= 0, got %s", cfg.Timeout)
	}
	g := &Group{
		id:     uuid.New(),
		size:   size,
		cfg:    cfg,
		rounds: make(map[uint64]*round),
	}
	g.peers = make([]*Peer, size)
	for r := range g.peers {
		g.peers[r] = &Peer{group: g, rank: r}
	}
	klog.V(1).Infof("collective group %s: %d ranks on %s, timeout %s", g.id, size, cfg.Device, cfg.Timeout)
	return g, nil
}

// ID uniquely identifies the group in logs and errors.
func (g *Group) ID() uuid.UUID {
	return g.id
}

// Size returns the number of ranks.
func (g *Group) Size() int {
	return g.size
}

// Peer returns the handle of the given rank.
func (g *Group) Peer(rank int) *Peer {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("rank %d out of range [0, %d)", rank, g.size))
	}
	return g.peers[rank]
}

// Peers returns the handles of all ranks, indexed by rank.
func (g *Group) Peers() []*Peer {
	return append([]*Peer(nil), g.peers...)
}

// Err returns the error that broke the group, or nil while it is healthy.
func (g *Group) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.broken
}

// breakLocked marks the group as broken and fails every round still in flight.
// Rounds that already completed keep their outputs. g.mu must be held.
func (g *Group) breakLocked(cause error) {
	if g.broken != nil {
		return
	}
	g.broken = cause
	klog.Warningf("collective group %s broken: %v", g.id, cause)
	for _, r := range g.rounds {
		if !r.done.test() {
			r.err = cause
			r.done.trigger()
		}
	}
}

// exchange contributes input to round seq and blocks until every rank has contributed,
// returning this rank's output.
func (g *Group) exchange(ctx context.Context, rank int, seq uint64, desc descriptor, input *tensor.RawTensor) (*tensor.RawTensor, error) {
	r, err := g.join(rank, seq, desc, input)
	if err != nil {
		return nil, err
	}

	var timeout <-chan time.Time
	if g.cfg.Timeout > 0 {
		timer := time.NewTimer(g.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-r.done.waitChan():
	case <-ctx.Done():
		g.failRound(r, errors.Wrapf(ErrCanceled, "group %s rank %d seq %d %s: %v", g.id, rank, seq, desc, ctx.Err()))
	case <-timeout:
		g.failRound(r, errors.Wrapf(ErrTimeout, "group %s rank %d seq %d %s: %d of %d ranks arrived after %s",
			g.id, rank, seq, desc, g.arrived(r), g.size, g.cfg.Timeout))
	}
	return g.collect(rank, r)
}

// join registers input in round seq, creating the round if this rank is the first.
func (g *Group) join(rank int, seq uint64, desc descriptor, input *tensor.RawTensor) (*round, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.broken != nil {
		return nil, errors.Wrapf(ErrGroupBroken, "group %s rank %d seq %d %s: %v", g.id, rank, seq, desc, g.broken)
	}

	r, ok := g.rounds[seq]
	if !ok {
		r = &round{
			seq:    seq,
			desc:   desc,
			first:  rank,
			inputs: make([]*tensor.RawTensor, g.size),
			done:   newLatch(),
		}
		g.rounds[seq] = r
	}
	if !r.desc.equal(desc) {
		err := errors.Wrapf(ErrDesynchronized, "group %s seq %d: rank %d issued %s, rank %d issued %s",
			g.id, seq, r.first, r.desc, rank, desc)
		g.breakLocked(err)
		return nil, err
	}
	if r.inputs[rank] != nil {
		err := errors.Wrapf(ErrDesynchronized, "group %s seq %d: rank %d contributed twice", g.id, seq, rank)
		g.breakLocked(err)
		return nil, err
	}

	r.inputs[rank] = input
	r.arrived++
	klog.V(1).Infof("collective group %s rank %d seq %d %s: %d/%d arrived", g.id, rank, seq, desc, r.arrived, g.size)
	if r.arrived == g.size {
		r.outputs = desc.compute(r.inputs, g.cfg.Device)
		r.inputs = nil
		r.done.trigger()
	}
	return r, nil
}

// collect returns this rank's output of a finished round, or the error that ended it.
func (g *Group) collect(rank int, r *round) (*tensor.RawTensor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	out := r.outputs[rank]
	r.outputs[rank] = nil
	r.collected++
	if r.collected == g.size {
		delete(g.rounds, r.seq)
	}
	return out, nil
}

// failRound breaks the group with err unless round r has already completed.
// Rounds complete under g.mu, so a round finished by the last rank while the caller
// was giving up is collected normally. It reports whether the group was broken.
func (g *Group) failRound(r *round, err error) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.done.test() {
		return false
	}
	g.breakLocked(err)
	return true
}

func (g *Group) arrived(r *round) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return r.arrived
}
