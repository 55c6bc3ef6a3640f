package cpu

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/born-ml/embedshard/internal/parallel"
	"github.com/born-ml/embedshard/internal/tensor"
)

// TransposeContiguous swaps the two leading axes: [A, B, ...] -> [B, A, ...].
//
// The trailing axes are moved as contiguous runs, so the result is materialized
// row-major and can be handed directly to a leading-axis exchange.
func (cpu *CPUBackend) TransposeContiguous(x *tensor.RawTensor) *tensor.RawTensor {
	const op = "transpose"
	shape := x.Shape()
	if len(shape) < 2 {
		exceptions.Panicf("%s: need at least 2 dimensions, got %v", op, shape)
	}
	a, b := shape[0], shape[1]
	inner := 1
	for _, d := range shape[2:] {
		inner *= d
	}
	run := inner * x.DType().Size()

	result := cpu.newResult(op, shape.Swap01(), x.DType())
	src, dst := x.Data(), result.Data()

	parallel.For(a*b, func(k int) {
		i, j := k/b, k%b
		from := (i*b + j) * run
		to := (j*a + i) * run
		copy(dst[to:to+run], src[from:from+run])
	}, cpu.parallel)
	return result
}

// ZeroMany zeroes every element of every tensor in a single dispatch.
//
// The tensors are flattened into one list of byte ranges, split into chunks and
// cleared together, rather than issuing one pass per tensor.
func (cpu *CPUBackend) ZeroMany(tensors []*tensor.RawTensor) {
	if len(tensors) == 0 {
		return
	}
	var total int
	offsets := make([]int, len(tensors)+1)
	for i, t := range tensors {
		offsets[i] = total
		total += t.ByteSize()
	}
	offsets[len(tensors)] = total

	parallel.ForChunks(total, func(start, end int) {
		// Locate the first tensor overlapping [start, end).
		i := 0
		for offsets[i+1] <= start {
			i++
		}
		for pos := start; pos < end; i++ {
			data := tensors[i].Data()
			lo := pos - offsets[i]
			hi := min(end, offsets[i+1]) - offsets[i]
			clear(data[lo:hi])
			pos = offsets[i] + hi
		}
	}, cpu.parallel)

	klog.V(2).Infof("zero many: %d tensors (%s)", len(tensors), humanize.Bytes(uint64(total)))
}
