package ops_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/embedshard/internal/autodiff/ops"
	"github.com/born-ml/embedshard/internal/backend/cpu"
	"github.com/born-ml/embedshard/internal/collective"
	"github.com/born-ml/embedshard/internal/tensor"
)

// runWorkers runs fn on every rank of a fresh group of the given size and requires
// all ranks to succeed.
func runWorkers(t *testing.T, world int, fn func(ctx context.Context, p *collective.Peer) error) *collective.Group {
	t.Helper()
	g := must.M1(collective.NewGroup(world, collective.DefaultConfig()))
	var eg errgroup.Group
	for _, p := range g.Peers() {
		eg.Go(func() error {
			return fn(context.Background(), p)
		})
	}
	require.NoError(t, eg.Wait())
	return g
}

// workerInput returns a [shape] tensor whose element i is 1000*rank + i.
func workerInput(rank int, shape tensor.Shape) *tensor.RawTensor {
	data := make([]float32, shape.NumElements())
	for i := range data {
		data[i] = float32(1000*rank + i)
	}
	return must.M1(tensor.FromFloat32(shape, data, tensor.CPU))
}

func TestAllToAllOp_BackwardInvertsForward(t *testing.T) {
	shapes := []struct {
		world   int
		B, T, D int
	}{
		{1, 3, 2, 4},
		{2, 4, 1, 1},
		{2, 6, 3, 2},
		{3, 3, 5, 1},
		{4, 8, 2, 3},
		{4, 16, 1, 5},
	}
	for _, s := range shapes {
		t.Run(fmt.Sprintf("W=%d/B=%d/T=%d/D=%d", s.world, s.B, s.T, s.D), func(t *testing.T) {
			backend := cpu.New()
			inputs := make([]*tensor.RawTensor, s.world)
			grads := make([]*tensor.RawTensor, s.world)
			runWorkers(t, s.world, func(ctx context.Context, p *collective.Peer) error {
				x := workerInput(p.Rank(), tensor.Shape{s.B, s.T, s.D})
				inputs[p.Rank()] = x
				want, err := ops.ButterflyShape(x.Shape(), p.Size())
				if err != nil {
					return err
				}
				out, err := p.AllToAll(ctx, x)
				if err != nil {
					return err
				}
				if !out.Shape().Equal(want) {
					return fmt.Errorf("rank %d: forward shape %v, want %v", p.Rank(), out.Shape(), want)
				}
				op := ops.NewAllToAllOp(backend, p, x, out)
				g, err := op.Backward(ctx, out.Clone())
				if err != nil {
					return err
				}
				grads[p.Rank()] = g[0]
				return nil
			})
			for r := range inputs {
				require.Equal(t, inputs[r].Shape(), grads[r].Shape(), "rank %d", r)
				assert.Equal(t, inputs[r].AsFloat32(), grads[r].AsFloat32(), "rank %d", r)
			}
		})
	}
}

func TestAllToAllOp_FourWorkers(t *testing.T) {
	const world, B, T, D = 4, 8, 2, 3
	backend := cpu.New()
	inputs := make([]*tensor.RawTensor, world)
	outputs := make([]*tensor.RawTensor, world)
	grads := make([]*tensor.RawTensor, world)

	runWorkers(t, world, func(ctx context.Context, p *collective.Peer) error {
		x := workerInput(p.Rank(), tensor.Shape{B, T, D})
		out, err := p.AllToAll(ctx, x)
		if err != nil {
			return err
		}
		op := ops.NewAllToAllOp(backend, p, x, out)
		g, err := op.Backward(ctx, out)
		if err != nil {
			return err
		}
		inputs[p.Rank()], outputs[p.Rank()], grads[p.Rank()] = x, out, g[0]
		return nil
	})

	for r := 0; r < world; r++ {
		assert.Equal(t, tensor.Shape{2, 8, 3}, outputs[r].Shape())
		assert.Equal(t, tensor.Shape{8, 2, 3}, grads[r].Shape())
		assert.Equal(t, inputs[r].AsFloat32(), grads[r].AsFloat32(), "rank %d", r)
	}
	// Worker 1 holds samples 2..3 of every worker's tables: out_1[0, 3*T + 1] = in_3[2, 1].
	o := outputs[1].AsFloat32()
	assert.Equal(t, float32(3000+(2*T+1)*D), o[(0*T*world+3*T+1)*D])
}

func TestButterflyShape(t *testing.T) {
	got, err := ops.ButterflyShape(tensor.Shape{8, 2, 3}, 4)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 8, 3}, got)

	_, err = ops.ButterflyShape(tensor.Shape{7, 2, 3}, 4)
	assert.ErrorIs(t, err, ops.ErrIndivisibleBatch)

	_, err = ops.ButterflyShape(tensor.Shape{8, 2}, 4)
	assert.ErrorIs(t, err, ops.ErrShapeMismatch)

	_, err = ops.ButterflyShape(tensor.Shape{8, 2, 3}, 0)
	assert.ErrorIs(t, err, ops.ErrIndivisibleBatch)
}

func TestAllToAllOp_GradientShapeMismatch(t *testing.T) {
	backend := cpu.New()
	g := must.M1(collective.NewGroup(1, collective.DefaultConfig()))
	p := g.Peer(0)
	x := workerInput(0, tensor.Shape{2, 1, 1})
	out := must.M1(p.AllToAll(context.Background(), x))
	seq := p.Sequence()

	op := ops.NewAllToAllOp(backend, p, x, out)
	_, err := op.Backward(context.Background(), workerInput(0, tensor.Shape{1, 1, 1}))
	require.ErrorIs(t, err, ops.ErrShapeMismatch)
	assert.Equal(t, seq, p.Sequence(), "a rejected gradient must not reach the group")
}

func TestReduceScatterOp_BackwardReconstructsSum(t *testing.T) {
	const world, B, T, D = 3, 2, 6, 2
	shape := tensor.Shape{B, T, D}

	sum := make([]float32, shape.NumElements())
	for r := 0; r < world; r++ {
		for i, v := range workerInput(r, shape).AsFloat32() {
			sum[i] += v
		}
	}

	grads := make([]*tensor.RawTensor, world)
	runWorkers(t, world, func(ctx context.Context, p *collective.Peer) error {
		x := workerInput(p.Rank(), shape)
		out, err := p.ReduceScatter(ctx, x, 1)
		if err != nil {
			return err
		}
		if want := (tensor.Shape{B, T / world, D}); !out.Shape().Equal(want) {
			return fmt.Errorf("rank %d: forward shape %v, want %v", p.Rank(), out.Shape(), want)
		}
		op := ops.NewReduceScatterOp(p, 1, x, out)
		g, err := op.Backward(ctx, out)
		if err != nil {
			return err
		}
		grads[p.Rank()] = g[0]
		return nil
	})

	for r := 0; r < world; r++ {
		require.Equal(t, shape, grads[r].Shape())
		assert.Equal(t, sum, grads[r].AsFloat32(), "rank %d", r)
	}
}

func TestReduceScatterOp_Metadata(t *testing.T) {
	g := must.M1(collective.NewGroup(1, collective.DefaultConfig()))
	x := workerInput(0, tensor.Shape{2, 2})
	out := must.M1(g.Peer(0).ReduceScatter(context.Background(), x, 0))
	op := ops.NewReduceScatterOp(g.Peer(0), 0, x, out)

	assert.Equal(t, ops.KindPure, op.Kind())
	assert.Equal(t, 0, op.Dim())
	assert.Equal(t, []*tensor.RawTensor{x}, op.Inputs())
	assert.Same(t, out, op.Output())

	_, err := op.Backward(context.Background(), nil)
	assert.ErrorIs(t, err, ops.ErrShapeMismatch)
}
