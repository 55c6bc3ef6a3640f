package cpu

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/blas/blas32"
	"k8s.io/klog/v2"

	"github.com/born-ml/embedshard/internal/parallel"
	"github.com/born-ml/embedshard/internal/tensor"
)

// embeddingLayout is the validated geometry shared by the gather and update kernels.
type embeddingLayout struct {
	numEmbeddings int // rows per table
	numTables     int
	embeddingDim  int
	batch         int
	bagSize       int // 1 for [B, T] indices
}

// checkEmbeddingLayout validates weights [N, T, D] against indices [B, T] or [B, T, L].
func checkEmbeddingLayout(op string, weights, indices *tensor.RawTensor) embeddingLayout {
	if weights.DType() != tensor.Float32 {
		exceptions.Panicf("%s: weights must be float32, got %s", op, weights.DType())
	}
	if !indices.DType().IsIndex() {
		exceptions.Panicf("%s: indices must be int32 or int64, got %s", op, indices.DType())
	}
	ws := weights.Shape()
	if len(ws) != 3 {
		exceptions.Panicf("%s: weights must be [num_embeddings, num_tables, embedding_dim], got %v", op, ws)
	}
	is := indices.Shape()
	if len(is) != 2 && len(is) != 3 {
		exceptions.Panicf("%s: indices must be [batch, num_tables] or [batch, num_tables, bag], got %v", op, is)
	}
	if is[1] != ws[1] {
		exceptions.Panicf("%s: indices address %d tables, weights hold %d", op, is[1], ws[1])
	}
	layout := embeddingLayout{
		numEmbeddings: ws[0],
		numTables:     ws[1],
		embeddingDim:  ws[2],
		batch:         is[0],
		bagSize:       1,
	}
	if len(is) == 3 {
		layout.bagSize = is[2]
	}
	return layout
}

// checkIndexBounds panics on the first index outside [0, numEmbeddings).
func checkIndexBounds(op string, indices *tensor.RawTensor, numEmbeddings int) {
	n := indices.NumElements()
	for i := 0; i < n; i++ {
		if idx := indices.IndexAt(i); idx < 0 || idx >= numEmbeddings {
			exceptions.Panicf("%s: index %d at position %d out of bounds [0, %d)", op, idx, i, numEmbeddings)
		}
	}
}

// EmbeddingGather gathers (and for bags, sum-pools) rows of weights [N, T, D].
//
// Row r of table t lives at weights[(r*T + t)*D : (r*T + t + 1)*D].
func (cpu *CPUBackend) EmbeddingGather(weights, indices *tensor.RawTensor) *tensor.RawTensor {
	const op = "embedding gather"
	layout := checkEmbeddingLayout(op, weights, indices)
	checkIndexBounds(op, indices, layout.numEmbeddings)

	T, D, L := layout.numTables, layout.embeddingDim, layout.bagSize
	result := cpu.newResult(op, tensor.Shape{layout.batch, T, D}, tensor.Float32)
	dst := result.AsFloat32()
	src := weights.AsFloat32()

	parallel.ForBatch(layout.batch, T, func(b, t int) {
		out := dst[(b*T+t)*D : (b*T+t+1)*D]
		base := (b*T + t) * L
		for l := 0; l < L; l++ {
			row := indices.IndexAt(base + l)
			in := src[(row*T+t)*D : (row*T+t+1)*D]
			if l == 0 {
				copy(out, in)
				continue
			}
			for j := range out {
				out[j] += in[j]
			}
		}
	}, cpu.parallel)

	if klog.V(2).Enabled() {
		klog.Infof("%s: %v rows from %v -> %v (%s)", op, indices.Shape(), weights.Shape(),
			result.Shape(), humanize.Bytes(uint64(result.ByteSize())))
	}
	return result
}

// FusedSparseUpdate applies weights[idx, t, :] -= lr * grad[b, t, :] for every addressed row.
//
// Every index is bounds-checked before the first write, so an invalid index leaves
// weights untouched. Tables own disjoint memory and are updated concurrently; within a
// table updates are applied sequentially, so repeated rows accumulate deterministically.
func (cpu *CPUBackend) FusedSparseUpdate(grad, weights, indices *tensor.RawTensor, lr float32) {
	const op = "fused sparse update"
	layout := checkEmbeddingLayout(op, weights, indices)
	if grad.DType() != tensor.Float32 {
		exceptions.Panicf("%s: gradient must be float32, got %s", op, grad.DType())
	}
	want := tensor.Shape{layout.batch, layout.numTables, layout.embeddingDim}
	if !grad.Shape().Equal(want) {
		exceptions.Panicf("%s: gradient shape %v, expected %v", op, grad.Shape(), want)
	}
	checkIndexBounds(op, indices, layout.numEmbeddings)

	T, D, L := layout.numTables, layout.embeddingDim, layout.bagSize
	w := weights.AsFloat32()
	g := grad.AsFloat32()

	parallel.For(T, func(t int) {
		for b := 0; b < layout.batch; b++ {
			x := blas32.Vector{N: D, Inc: 1, Data: g[(b*T+t)*D : (b*T+t+1)*D]}
			base := (b*T + t) * L
			for l := 0; l < L; l++ {
				row := indices.IndexAt(base + l)
				y := blas32.Vector{N: D, Inc: 1, Data: w[(row*T+t)*D : (row*T+t+1)*D]}
				blas32.Axpy(-lr, x, y)
			}
		}
	}, cpu.parallel)

	if klog.V(2).Enabled() {
		klog.Infof("%s: %d rows (lr=%g) into %v (%s)", op, indices.NumElements(), lr,
			weights.Shape(), humanize.Bytes(uint64(weights.ByteSize())))
	}
}
