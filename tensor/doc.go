// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense buffers exchanged by the sharded embedding pipeline.
//
// # Overview
//
// A RawTensor is a contiguous row-major buffer with a Shape and a runtime DataType:
//   - Float32 for embedding tables, activations and gradients
//   - Int32 or Int64 for sparse indices
//
// # Basic Usage
//
//	import "github.com/born-ml/embedshard/tensor"
//
//	func main() {
//	    // Indices for 2 samples over 3 tables
//	    indices, err := tensor.FromInt32(tensor.Shape{2, 3}, []int32{0, 4, 1, 2, 2, 7}, tensor.CPU)
//
//	    // Zero-filled [2, 3, 16] activations
//	    x, err := tensor.NewRaw(tensor.Shape{2, 3, 16}, tensor.Float32, tensor.CPU)
//	}
//
// # Backends
//
// Backend is the set of native entry points the embedding operations dispatch to. The
// collective entry points live on collective.Communicator.
package tensor
