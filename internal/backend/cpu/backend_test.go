package cpu

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/embedshard/internal/parallel"
	"github.com/born-ml/embedshard/internal/tensor"
)

// newWeights builds weights [N, T, D] where element (r, t, d) = 100*r + 10*t + d.
func newWeights(t *testing.T, n, tables, dim int) *tensor.RawTensor {
	t.Helper()
	data := make([]float32, n*tables*dim)
	for r := 0; r < n; r++ {
		for tb := 0; tb < tables; tb++ {
			for d := 0; d < dim; d++ {
				data[(r*tables+tb)*dim+d] = float32(100*r + 10*tb + d)
			}
		}
	}
	return must.M1(tensor.FromFloat32(tensor.Shape{n, tables, dim}, data, tensor.CPU))
}

func TestEmbeddingGather_SingleIndex(t *testing.T) {
	backend := New()
	weights := newWeights(t, 5, 2, 3)
	// [B=3, T=2]
	indices := must.M1(tensor.FromInt32(tensor.Shape{3, 2}, []int32{0, 4, 2, 2, 4, 1}, tensor.CPU))

	out := backend.EmbeddingGather(weights, indices)
	require.Equal(t, tensor.Shape{3, 2, 3}, out.Shape())

	got := out.AsFloat32()
	for b := 0; b < 3; b++ {
		for tb := 0; tb < 2; tb++ {
			row := indices.IndexAt(b*2 + tb)
			for d := 0; d < 3; d++ {
				want := float32(100*row + 10*tb + d)
				assert.Equal(t, want, got[(b*2+tb)*3+d], "out[%d,%d,%d]", b, tb, d)
			}
		}
	}
}

func TestEmbeddingGather_BagSumPool(t *testing.T) {
	backend := NewWithConfig(parallel.Sequential())
	weights := newWeights(t, 4, 1, 2)
	// [B=1, T=1, L=3]: rows 1, 3, 1
	indices := must.M1(tensor.FromInt64(tensor.Shape{1, 1, 3}, []int64{1, 3, 1}, tensor.CPU))

	out := backend.EmbeddingGather(weights, indices)
	require.Equal(t, tensor.Shape{1, 1, 2}, out.Shape())
	// d=0: 100+300+100, d=1: 101+301+101
	assert.Equal(t, []float32{500, 503}, out.AsFloat32())
}

func TestEmbeddingGather_DoesNotMutateWeights(t *testing.T) {
	backend := New()
	weights := newWeights(t, 3, 2, 2)
	before := weights.Clone()
	indices := must.M1(tensor.FromInt32(tensor.Shape{2, 2}, []int32{0, 1, 2, 2}, tensor.CPU))

	_ = backend.EmbeddingGather(weights, indices)
	assert.Equal(t, before.AsFloat32(), weights.AsFloat32())
}

func TestEmbeddingGather_OutOfBoundsPanics(t *testing.T) {
	backend := New()
	weights := newWeights(t, 3, 1, 2)
	indices := must.M1(tensor.FromInt32(tensor.Shape{2, 1}, []int32{0, 3}, tensor.CPU))

	err := exceptions.TryCatch[error](func() { backend.EmbeddingGather(weights, indices) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of bounds")
}

func TestEmbeddingGather_TableMismatchPanics(t *testing.T) {
	backend := New()
	weights := newWeights(t, 3, 2, 2)
	indices := must.M1(tensor.FromInt32(tensor.Shape{2, 3}, []int32{0, 0, 0, 0, 0, 0}, tensor.CPU))

	err := exceptions.TryCatch[error](func() { backend.EmbeddingGather(weights, indices) })
	require.Error(t, err)
}

func TestFusedSparseUpdate_AccumulatesRepeatedRows(t *testing.T) {
	backend := New()
	weights := newWeights(t, 4, 2, 2)
	before := weights.Clone()
	// [B=3, T=2]; table 0 hits row 1 twice, table 1 hits rows 0, 3, 0.
	indices := must.M1(tensor.FromInt32(tensor.Shape{3, 2}, []int32{1, 0, 1, 3, 2, 0}, tensor.CPU))
	grad := must.M1(tensor.FromFloat32(tensor.Shape{3, 2, 2}, []float32{
		1, 2, 10, 20,
		3, 4, 30, 40,
		5, 6, 50, 60,
	}, tensor.CPU))
	const lr = 0.5

	backend.FusedSparseUpdate(grad, weights, indices, lr)

	w, w0 := weights.AsFloat32(), before.AsFloat32()
	at := func(r, tb, d int) int { return (r*2+tb)*2 + d }

	// Table 0, row 1: grads (1,2) + (3,4).
	assert.InDelta(t, w0[at(1, 0, 0)]-lr*4, w[at(1, 0, 0)], 1e-5)
	assert.InDelta(t, w0[at(1, 0, 1)]-lr*6, w[at(1, 0, 1)], 1e-5)
	// Table 0, row 2: grad (5,6).
	assert.InDelta(t, w0[at(2, 0, 0)]-lr*5, w[at(2, 0, 0)], 1e-5)
	// Table 1, row 0: grads (10,20) + (50,60).
	assert.InDelta(t, w0[at(0, 1, 0)]-lr*60, w[at(0, 1, 0)], 1e-5)
	assert.InDelta(t, w0[at(0, 1, 1)]-lr*80, w[at(0, 1, 1)], 1e-5)
	// Table 1, row 3: grad (30,40).
	assert.InDelta(t, w0[at(3, 1, 1)]-lr*40, w[at(3, 1, 1)], 1e-5)

	// Unaddressed rows are untouched.
	for _, idx := range []int{at(0, 0, 0), at(0, 0, 1), at(3, 0, 0), at(1, 1, 0), at(2, 1, 1)} {
		assert.Equal(t, w0[idx], w[idx], "element %d", idx)
	}
}

func TestFusedSparseUpdate_OutOfBoundsLeavesWeightsUntouched(t *testing.T) {
	backend := New()
	weights := newWeights(t, 3, 1, 2)
	before := weights.Clone()
	indices := must.M1(tensor.FromInt32(tensor.Shape{2, 1}, []int32{0, 9}, tensor.CPU))
	grad := must.M1(tensor.FromFloat32(tensor.Shape{2, 1, 2}, []float32{1, 1, 1, 1}, tensor.CPU))

	err := exceptions.TryCatch[error](func() { backend.FusedSparseUpdate(grad, weights, indices, 1) })
	require.Error(t, err)
	assert.Equal(t, before.AsFloat32(), weights.AsFloat32())
}

func TestFusedSparseUpdate_GradShapeMismatchPanics(t *testing.T) {
	backend := New()
	weights := newWeights(t, 3, 1, 2)
	indices := must.M1(tensor.FromInt32(tensor.Shape{2, 1}, []int32{0, 1}, tensor.CPU))
	grad := must.M1(tensor.FromFloat32(tensor.Shape{2, 1, 3}, make([]float32, 6), tensor.CPU))

	err := exceptions.TryCatch[error](func() { backend.FusedSparseUpdate(grad, weights, indices, 1) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gradient shape")
}

func TestTransposeContiguous(t *testing.T) {
	backend := New()
	// [2, 3, 2]
	x := must.M1(tensor.FromFloat32(tensor.Shape{2, 3, 2}, []float32{
		0, 1, 2, 3, 4, 5,
		6, 7, 8, 9, 10, 11,
	}, tensor.CPU))

	out := backend.TransposeContiguous(x)
	require.Equal(t, tensor.Shape{3, 2, 2}, out.Shape())
	assert.Equal(t, []float32{
		0, 1, 6, 7,
		2, 3, 8, 9,
		4, 5, 10, 11,
	}, out.AsFloat32())

	// Twice is the identity.
	back := backend.TransposeContiguous(out)
	assert.Equal(t, x.AsFloat32(), back.AsFloat32())
}

func TestTransposeContiguous_RankOnePanics(t *testing.T) {
	backend := New()
	x := must.M1(tensor.FromFloat32(tensor.Shape{3}, []float32{1, 2, 3}, tensor.CPU))
	require.Error(t, exceptions.TryCatch[error](func() { backend.TransposeContiguous(x) }))
}

func TestZeroMany(t *testing.T) {
	cfgs := map[string]parallel.Config{
		"sequential": parallel.Sequential(),
		"parallel":   {Enabled: true, NumWorkers: 3, MinChunkSize: 4},
	}
	for name, cfg := range cfgs {
		t.Run(name, func(t *testing.T) {
			backend := NewWithConfig(cfg)
			a := must.M1(tensor.FromFloat32(tensor.Shape{5}, []float32{1, 2, 3, 4, 5}, tensor.CPU))
			b := must.M1(tensor.FromFloat32(tensor.Shape{2, 3}, []float32{-1, -2, -3, -4, -5, -6}, tensor.CPU))
			c := must.M1(tensor.FromFloat32(tensor.Shape{1}, []float32{7}, tensor.CPU))

			backend.ZeroMany([]*tensor.RawTensor{a, b, c})

			assert.Equal(t, make([]float32, 5), a.AsFloat32())
			assert.Equal(t, make([]float32, 6), b.AsFloat32())
			assert.Equal(t, make([]float32, 1), c.AsFloat32())
		})
	}
}

func TestZeroMany_Empty(t *testing.T) {
	backend := New()
	backend.ZeroMany(nil) // must not panic
}
