package autodiff_test

import (
	"context"
	"sync"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/embedshard/internal/autodiff"
	"github.com/born-ml/embedshard/internal/autodiff/ops"
	"github.com/born-ml/embedshard/internal/backend/cpu"
	"github.com/born-ml/embedshard/internal/collective"
	"github.com/born-ml/embedshard/internal/tensor"
)

// shard holds one worker's slice of the pipeline state.
type shard struct {
	weights *tensor.RawTensor
	before  *tensor.RawTensor
	indices *tensor.RawTensor
	output  *tensor.RawTensor
	grads   *autodiff.Gradients
	again   error
}

func TestPipeline_ForwardAndFusedBackward(t *testing.T) {
	const world, N, T, D, B = 2, 4, 4, 2, 4
	const lr = 0.5
	g := must.M1(collective.NewGroup(world, collective.DefaultConfig()))
	shards := make([]*shard, world)

	for r := range shards {
		w := make([]float32, N*T*D)
		for i := range w {
			w[i] = float32(100*r + i)
		}
		idx := make([]int32, B*T)
		for i := range idx {
			idx[i] = int32((i + r) % N)
		}
		weights := must.M1(tensor.FromFloat32(tensor.Shape{N, T, D}, w, tensor.CPU))
		shards[r] = &shard{
			weights: weights,
			before:  weights.Clone(),
			indices: must.M1(tensor.FromInt32(tensor.Shape{B, T}, idx, tensor.CPU)),
		}
	}

	var eg errgroup.Group
	for _, p := range g.Peers() {
		eg.Go(func() error {
			s := shards[p.Rank()]
			ctx := context.Background()
			backend := autodiff.New(cpu.New())
			backend.Tape().StartRecording()
			guard := &sync.RWMutex{}

			pooled, err := backend.Lookup(s.weights, s.indices, ops.UpdateRule{LearningRate: lr}, guard)
			if err != nil {
				return err
			}
			reduced, err := backend.ReduceScatter(ctx, p, pooled, 1)
			if err != nil {
				return err
			}
			local, err := backend.AllToAll(ctx, p, reduced)
			if err != nil {
				return err
			}
			s.output = local

			ones := must.M1(tensor.NewRaw(local.Shape(), tensor.Float32, tensor.CPU))
			for i := range ones.AsFloat32() {
				ones.AsFloat32()[i] = 1
			}
			s.grads, err = backend.Tape().Backward(ctx, ones)
			if err != nil {
				return err
			}
			_, s.again = backend.Tape().Backward(ctx, ones)
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	bw := B / world
	for r, s := range shards {
		require.Equal(t, tensor.Shape{bw, T, D}, s.output.Shape(), "rank %d", r)

		// Forward: out_r[b, t] = Σ_w W_w[idx_w[r*bw + b, t], t].
		o := s.output.AsFloat32()
		for b := 0; b < bw; b++ {
			for tb := 0; tb < T; tb++ {
				for d := 0; d < D; d++ {
					var want float32
					for _, src := range shards {
						row := src.indices.IndexAt((r*bw+b)*T + tb)
						want += src.before.AsFloat32()[(row*T+tb)*D+d]
					}
					assert.Equal(t, want, o[(b*T+tb)*D+d], "rank %d out[%d,%d,%d]", r, b, tb, d)
				}
			}
		}

		// Backward: every addressed row moved by lr per occurrence, nothing else moved.
		counts := make([]int, N*T)
		for i := 0; i < B*T; i++ {
			counts[s.indices.IndexAt(i)*T+i%T]++
		}
		for rt, c := range counts {
			for d := 0; d < D; d++ {
				want := s.before.AsFloat32()[rt*D+d] - lr*float32(c)
				assert.InDelta(t, want, s.weights.AsFloat32()[rt*D+d], 1e-4, "rank %d row/table %d", r, rt)
			}
		}

		assert.True(t, s.grads.UpdatedInPlace(s.weights))
		assert.Equal(t, []*tensor.RawTensor{s.weights}, s.grads.Updated())
		assert.Nil(t, s.grads.Get(s.weights), "fused-updated weights get no gradient")
		assert.ErrorIs(t, s.again, ops.ErrUpdateAlreadyApplied)
	}
	require.NoError(t, g.Err())
}

func TestAllToAll_IndivisibleBatchFailsBeforeDispatch(t *testing.T) {
	g := must.M1(collective.NewGroup(4, collective.DefaultConfig()))
	p := g.Peer(0)
	x := must.M1(tensor.NewRaw(tensor.Shape{7, 2, 3}, tensor.Float32, tensor.CPU))

	tape := autodiff.NewGradientTape()
	tape.StartRecording()
	_, err := autodiff.AllToAll(context.Background(), tape, cpu.New(), p, x)
	require.ErrorIs(t, err, ops.ErrIndivisibleBatch)
	assert.Equal(t, uint64(0), p.Sequence(), "nothing was exchanged")
	assert.Equal(t, 0, tape.NumOps())
	assert.NoError(t, g.Err())
}

func TestLookup_ValidatesBeforeGather(t *testing.T) {
	backend := cpu.New()
	weights := must.M1(tensor.FromFloat32(tensor.Shape{2, 1, 1}, []float32{1, 2}, tensor.CPU))
	tape := autodiff.NewGradientTape()
	tape.StartRecording()

	oob := must.M1(tensor.FromInt32(tensor.Shape{1, 1}, []int32{2}, tensor.CPU))
	_, err := autodiff.Lookup(tape, backend, weights, oob, ops.DefaultUpdateRule(), nil)
	assert.ErrorIs(t, err, ops.ErrIndexOutOfRange)

	ok := must.M1(tensor.FromInt32(tensor.Shape{1, 1}, []int32{1}, tensor.CPU))
	_, err = autodiff.Lookup(tape, backend, weights, ok, ops.UpdateRule{LearningRate: -1}, nil)
	assert.ErrorIs(t, err, ops.ErrInvalidUpdateRule)
	assert.Equal(t, 0, tape.NumOps())

	out, err := autodiff.Lookup(nil, backend, weights, ok, ops.DefaultUpdateRule(), nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{2}, out.AsFloat32())
}

func TestAutodiffBackend_Metadata(t *testing.T) {
	backend := autodiff.New(cpu.New())
	assert.Equal(t, "Autodiff(CPU)", backend.Name())
	assert.Equal(t, tensor.CPU, backend.Device())
	assert.NotNil(t, backend.Tape())
	assert.Equal(t, "CPU", backend.Inner().Name())

	var _ tensor.Backend = backend
}
