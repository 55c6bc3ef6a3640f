package collective

import (
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/embedshard/internal/tensor"
)

// opKind identifies a collective.
type opKind int

const (
	opReduceScatter opKind = iota
	opAllGather
	opAllToAll
)

func (k opKind) String() string {
	switch k {
	case opReduceScatter:
		return "ReduceScatter"
	case opAllGather:
		return "AllGather"
	case opAllToAll:
		return "AllToAll"
	default:
		return "Unknown"
	}
}

// descriptor is what every participant of a round must agree on.
type descriptor struct {
	kind  opKind
	dim   int
	dtype tensor.DataType
	shape tensor.Shape
}

func (d descriptor) equal(other descriptor) bool {
	return d.kind == other.kind && d.dim == other.dim && d.dtype == other.dtype && d.shape.Equal(other.shape)
}

func (d descriptor) String() string {
	if d.kind == opAllToAll {
		return fmt.Sprintf("%s(%s%v)", d.kind, d.dtype, d.shape)
	}
	return fmt.Sprintf("%s(%s%v, dim=%d)", d.kind, d.dtype, d.shape, d.dim)
}

// compute produces one output per rank from the inputs of all ranks.
func (d descriptor) compute(inputs []*tensor.RawTensor, device tensor.Device) []*tensor.RawTensor {
	switch d.kind {
	case opReduceScatter:
		return reduceScatter(inputs, d.dim, device)
	case opAllGather:
		return allGather(inputs, d.dim, device)
	case opAllToAll:
		return allToAll(inputs, device)
	default:
		panic(fmt.Sprintf("unknown collective %d", d.kind))
	}
}

func mustNewRaw(shape tensor.Shape, device tensor.Device) *tensor.RawTensor {
	out, err := tensor.NewRaw(shape, tensor.Float32, device)
	if err != nil {
		panic(err)
	}
	return out
}

// reduceScatter sums the inputs element-wise and gives rank r slice r of dimension dim.
//
// Inputs are summed in rank order, so every rank observes bit-identical partial sums.
func reduceScatter(inputs []*tensor.RawTensor, dim int, device tensor.Device) []*tensor.RawTensor {
	world := len(inputs)
	shape := inputs[0].Shape()
	outer, size, inner := shape.SplitAt(dim)
	chunk := size / world

	n := shape.NumElements()
	sum := make([]float32, n)
	acc := blas32.Vector{N: n, Inc: 1, Data: sum}
	for _, in := range inputs {
		blas32.Axpy(1, blas32.Vector{N: n, Inc: 1, Data: in.AsFloat32()}, acc)
	}

	outShape := shape.WithDim(dim, chunk)
	outputs := make([]*tensor.RawTensor, world)
	run := chunk * inner
	for r := range outputs {
		out := mustNewRaw(outShape, device)
		o := out.AsFloat32()
		for i := 0; i < outer; i++ {
			from := i*size*inner + r*run
			copy(o[i*run:(i+1)*run], sum[from:from+run])
		}
		outputs[r] = out
	}
	return outputs
}

// allGather concatenates the inputs along dim in rank order and gives every rank a copy.
func allGather(inputs []*tensor.RawTensor, dim int, device tensor.Device) []*tensor.RawTensor {
	world := len(inputs)
	shape := inputs[0].Shape()
	outer, chunk, inner := shape.SplitAt(dim)
	size := chunk * world
	run := chunk * inner

	gathered := mustNewRaw(shape.WithDim(dim, size), device)
	g := gathered.AsFloat32()
	for r, in := range inputs {
		src := in.AsFloat32()
		for i := 0; i < outer; i++ {
			to := i*size*inner + r*run
			copy(g[to:to+run], src[i*run:(i+1)*run])
		}
	}

	outputs := make([]*tensor.RawTensor, world)
	outputs[0] = gathered
	for r := 1; r < world; r++ {
		outputs[r] = gathered.Clone()
	}
	return outputs
}

// allToAll splits the leading axis of every input into world chunks; chunk r of rank src
// goes to rank r, which concatenates the chunks it receives along axis 1 in source order.
//
// For inputs [L, M, ...] the outputs are [L/world, M*world, ...] with
//
//	out_r[l, src*M + m, ...] = in_src[r*(L/world) + l, m, ...]
func allToAll(inputs []*tensor.RawTensor, device tensor.Device) []*tensor.RawTensor {
	world := len(inputs)
	shape := inputs[0].Shape()
	L, M := shape[0], shape[1]
	inner := 1
	for _, d := range shape[2:] {
		inner *= d
	}
	lw := L / world
	run := M * inner

	outShape := shape.Clone()
	outShape[0] = lw
	outShape[1] = M * world

	outputs := make([]*tensor.RawTensor, world)
	for r := range outputs {
		out := mustNewRaw(outShape, device)
		o := out.AsFloat32()
		for src, in := range inputs {
			s := in.AsFloat32()
			for l := 0; l < lw; l++ {
				from := (r*lw + l) * run
				to := (l*world + src) * run
				copy(o[to:to+run], s[from:from+run])
			}
		}
		outputs[r] = out
	}
	return outputs
}
