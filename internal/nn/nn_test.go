package nn_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/embedshard/internal/autodiff"
	"github.com/born-ml/embedshard/internal/autodiff/ops"
	"github.com/born-ml/embedshard/internal/backend/cpu"
	"github.com/born-ml/embedshard/internal/nn"
	"github.com/born-ml/embedshard/internal/tensor"
)

func TestNewShardedEmbeddingTable(t *testing.T) {
	backend := cpu.New()
	table := must.M1(nn.NewShardedEmbeddingTableWithRand(3, 10, 4, backend, rand.New(rand.NewSource(1))))

	assert.Equal(t, 3, table.NumTables)
	assert.Equal(t, 10, table.NumEmbeddings)
	assert.Equal(t, 4, table.EmbeddingDim)
	assert.Equal(t, tensor.Shape{10, 3, 4}, table.Weight.Tensor().Shape())
	assert.True(t, table.Weight.FusedUpdate())
	assert.Len(t, table.Parameters(), 1)

	var nonZero int
	for _, v := range table.Weight.Tensor().AsFloat32() {
		if v != 0 {
			nonZero++
		}
	}
	assert.Greater(t, nonZero, 0, "weights should be randomly initialized")

	_, err := nn.NewShardedEmbeddingTable(0, 10, 4, backend)
	assert.ErrorIs(t, err, nn.ErrInvalidShape)

	_, err = nn.NewShardedEmbeddingTableWithWeight(nn.Zeros(tensor.Shape{10, 4}, tensor.CPU), backend)
	assert.ErrorIs(t, err, nn.ErrInvalidShape)
}

func TestShardedEmbeddingTable_LookupAndFusedUpdate(t *testing.T) {
	backend := cpu.New()
	weight := must.M1(tensor.FromFloat32(tensor.Shape{3, 2, 1}, []float32{0, 1, 10, 11, 20, 21}, tensor.CPU))
	table := must.M1(nn.NewShardedEmbeddingTableWithWeight(weight, backend))
	indices := must.M1(tensor.FromInt32(tensor.Shape{2, 2}, []int32{2, 0, 2, 1}, tensor.CPU))

	tape := autodiff.NewGradientTape()
	tape.StartRecording()
	out, err := table.Lookup(tape, indices, ops.UpdateRule{LearningRate: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []float32{20, 1, 20, 11}, out.AsFloat32())
	assert.Equal(t, []float32{0, 1, 10, 11, 20, 21}, weight.AsFloat32(), "lookup has no side effect")

	grad := must.M1(tensor.FromFloat32(tensor.Shape{2, 2, 1}, []float32{1, 2, 3, 4}, tensor.CPU))
	grads, err := tape.Backward(context.Background(), grad)
	require.NoError(t, err)
	assert.True(t, grads.UpdatedInPlace(weight))

	// Row 2 of table 0 is addressed twice: 20 - 0.5*(1+3).
	assert.Equal(t, []float32{0, 1 - 0.5*2, 10, 11 - 0.5*4, 18, 21}, weight.AsFloat32())
	assert.Nil(t, table.Weight.Grad())
}

func TestShardedEmbeddingTable_LookupErrors(t *testing.T) {
	table := must.M1(nn.NewShardedEmbeddingTable(2, 3, 1, cpu.New()))

	oob := must.M1(tensor.FromInt32(tensor.Shape{1, 2}, []int32{0, 3}, tensor.CPU))
	_, err := table.Lookup(nil, oob, ops.DefaultUpdateRule())
	assert.ErrorIs(t, err, ops.ErrIndexOutOfRange)
	assert.Contains(t, err.Error(), "embedding.weight")

	wrongTables := must.M1(tensor.FromInt32(tensor.Shape{1, 3}, []int32{0, 0, 0}, tensor.CPU))
	_, err = table.Lookup(nil, wrongTables, ops.DefaultUpdateRule())
	assert.ErrorIs(t, err, ops.ErrShapeMismatch)
}

func TestParameter_Grad(t *testing.T) {
	p := nn.NewParameter("w", nn.Zeros(tensor.Shape{2}, tensor.CPU))
	assert.Equal(t, "w", p.Name())
	assert.False(t, p.FusedUpdate())
	assert.Nil(t, p.Grad())

	p.ZeroGrad()
	assert.Nil(t, p.Grad(), "ZeroGrad leaves gradient-less parameters untouched")

	op := ops.NewReduceScatterOp(nil, 0, nil, nil)
	grad := must.M1(tensor.FromFloat32(tensor.Shape{2}, []float32{3, 4}, tensor.CPU))
	p.SetGrad(grad, op)
	assert.Same(t, grad, p.Grad())
	assert.Same(t, op, p.GradOp())

	p.ZeroGrad()
	assert.Same(t, grad, p.Grad(), "the buffer is kept")
	assert.Equal(t, []float32{0, 0}, grad.AsFloat32())
	assert.Nil(t, p.GradOp())
}

func TestLinear_ForwardBackward(t *testing.T) {
	l := nn.NewLinear(3, 2, tensor.CPU, rand.New(rand.NewSource(7)))
	copy(l.Weight().Tensor().AsFloat32(), []float32{1, 2, 3, 4, 5, 6})
	copy(l.Bias().Tensor().AsFloat32(), []float32{0.5, -1})
	assert.Len(t, l.Parameters(), 2)

	// [2, 3, 1] flattens to [2, 3].
	x := must.M1(tensor.FromFloat32(tensor.Shape{2, 3, 1}, []float32{1, 0, 2, 0, 1, 1}, tensor.CPU))
	y := must.M1(l.Forward(x))
	require.Equal(t, tensor.Shape{2, 2}, y.Shape())
	assert.Equal(t, []float32{7.5, 15, 5.5, 10}, y.AsFloat32())

	gradY := must.M1(tensor.FromFloat32(tensor.Shape{2, 2}, []float32{1, 0, 0, 2}, tensor.CPU))
	dx := must.M1(l.Backward(x, gradY))
	assert.Equal(t, x.Shape(), dx.Shape())
	// dx = gradY @ W
	assert.Equal(t, []float32{1, 2, 3, 8, 10, 12}, dx.AsFloat32())
	// dW = gradY.T @ x
	assert.Equal(t, []float32{1, 0, 2, 0, 2, 2}, l.Weight().Grad().AsFloat32())
	assert.Equal(t, []float32{1, 2}, l.Bias().Grad().AsFloat32())

	_, err := l.Forward(must.M1(tensor.FromFloat32(tensor.Shape{1, 2}, []float32{1, 2}, tensor.CPU)))
	assert.ErrorIs(t, err, nn.ErrInvalidShape)
}

func TestMSELoss(t *testing.T) {
	pred := must.M1(tensor.FromFloat32(tensor.Shape{2}, []float32{1, 3}, tensor.CPU))
	target := must.M1(tensor.FromFloat32(tensor.Shape{2}, []float32{0, 1}, tensor.CPU))

	loss, grad, err := nn.MSELoss(pred, target)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, loss, 1e-6)
	assert.Equal(t, []float32{1, 2}, grad.AsFloat32())

	_, _, err = nn.MSELoss(pred, must.M1(tensor.FromFloat32(tensor.Shape{1}, []float32{0}, tensor.CPU)))
	assert.ErrorIs(t, err, nn.ErrInvalidShape)
}

// TestShardedEmbeddingTable_ConcurrentLookupAndUpdate runs lookups and fused updates of
// overlapping rows of one table from many goroutines. Run with -race.
func TestShardedEmbeddingTable_ConcurrentLookupAndUpdate(t *testing.T) {
	const (
		goroutines = 8
		steps      = 20
		N, T, D    = 3, 2, 4
		B          = 4
		lr         = 0.25
	)
	backend := cpu.New()
	weight := must.M1(tensor.NewRaw(tensor.Shape{N, T, D}, tensor.Float32, tensor.CPU))
	table := must.M1(nn.NewShardedEmbeddingTableWithWeight(weight, backend))
	rule := ops.UpdateRule{LearningRate: lr}

	// Goroutine g addresses row (g+b+t)%N of table t for sample b.
	indicesOf := func(g int) *tensor.RawTensor {
		rows := make([]int32, B*T)
		for b := 0; b < B; b++ {
			for tb := 0; tb < T; tb++ {
				rows[b*T+tb] = int32((g + b + tb) % N)
			}
		}
		return must.M1(tensor.FromInt32(tensor.Shape{B, T}, rows, tensor.CPU))
	}
	ones := make([]float32, B*T*D)
	for i := range ones {
		ones[i] = 1
	}

	var eg errgroup.Group
	for g := 0; g < goroutines; g++ {
		eg.Go(func() error {
			indices := indicesOf(g)
			for step := 0; step < steps; step++ {
				tape := autodiff.NewGradientTape()
				tape.StartRecording()
				out, err := table.Lookup(tape, indices, rule)
				if err != nil {
					return err
				}
				// Rows are updated as a whole, so a gathered row never mixes two states.
				v := out.AsFloat32()
				for i := 0; i < B*T; i++ {
					for d := 1; d < D; d++ {
						if v[i*D+d] != v[i*D] {
							t.Errorf("torn row %d: %v", i, v[i*D:(i+1)*D])
						}
					}
				}
				grad := must.M1(tensor.FromFloat32(tensor.Shape{B, T, D}, ones, tensor.CPU))
				if _, err := tape.Backward(context.Background(), grad); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	// Serial sum of every update: each address subtracts lr from its row.
	want := make([]float32, N*T*D)
	for g := 0; g < goroutines; g++ {
		rows := indicesOf(g).AsInt32()
		for b := 0; b < B; b++ {
			for tb := 0; tb < T; tb++ {
				r := int(rows[b*T+tb])
				for d := 0; d < D; d++ {
					want[(r*T+tb)*D+d] -= lr * steps
				}
			}
		}
	}
	assert.Equal(t, want, table.Weight.Tensor().AsFloat32())
}
