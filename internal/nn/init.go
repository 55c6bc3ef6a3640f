package nn

import (
	"math"
	"math/rand"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/embedshard/internal/tensor"
)

// Normal creates a float32 tensor drawn from the standard normal distribution N(0, 1).
//
// rng may be nil, in which case the global source is used. Passing a seeded source makes
// initialization reproducible across workers.
func Normal(shape tensor.Shape, device tensor.Device, rng *rand.Rand) *tensor.RawTensor {
	t := newFloat32(shape, device)
	data := t.AsFloat32()
	for i := range data {
		//nolint:gosec // math/rand is appropriate for ML weight initialization
		if rng != nil {
			data[i] = float32(rng.NormFloat64())
		} else {
			data[i] = float32(rand.NormFloat64())
		}
	}
	return t
}

// Xavier (Glorot) initialization for weights.
//
// Initializes weights with values drawn from a uniform distribution:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
func Xavier(fanIn, fanOut int, shape tensor.Shape, device tensor.Device, rng *rand.Rand) *tensor.RawTensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	t := newFloat32(shape, device)
	data := t.AsFloat32()
	for i := range data {
		var u float64
		//nolint:gosec // Using math/rand for weight initialization (not security-critical)
		if rng != nil {
			u = rng.Float64()
		} else {
			u = rand.Float64()
		}
		data[i] = float32((u*2.0 - 1.0) * bound)
	}
	return t
}

// Zeros creates a float32 tensor filled with zeros.
func Zeros(shape tensor.Shape, device tensor.Device) *tensor.RawTensor {
	return newFloat32(shape, device)
}

func newFloat32(shape tensor.Shape, device tensor.Device) *tensor.RawTensor {
	t, err := tensor.NewRaw(shape, tensor.Float32, device)
	if err != nil {
		exceptions.Panicf("nn: failed to allocate %v: %v", shape, err)
	}
	return t
}
