// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides a pure Go CPU backend for the embedding kernels.
//
// # Overview
//
// This package implements the native entry points used by the sharded embedding
// pipeline:
//   - Pure Go implementation (no CGO)
//   - Row gather with optional sum-pooled bags
//   - Fused sparse SGD update (gonum BLAS axpy per row)
//   - Leading-axis transpose into a contiguous buffer
//   - Multi-tensor zeroing in one dispatch
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/embedshard/backend/cpu"
//	    "github.com/born-ml/embedshard/nn"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    table, err := nn.NewShardedEmbeddingTable(8, 1000, 16, backend)
//	}
//
// # Errors
//
// Kernels panic on malformed input. The autodiff operations validate their arguments
// before dispatch and convert any remaining panic into an error.
//
// # Thread Safety
//
// Kernels do not share mutable state. Concurrent calls writing the same buffer must be
// serialized by the caller; embedding tables do this with a per-table lock.
package cpu
