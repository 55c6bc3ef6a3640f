// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the model components of the sharded embedding pipeline.
//
// # Overview
//
// This package contains:
//   - ShardedEmbeddingTable: T tables in one [N, T, D] buffer, updated in place
//     during backward
//   - Linear: dense head over pooled embeddings
//   - MSELoss: mean squared error with its gradient
//   - Utilities: Module interface, Parameter
//   - Initialization: Normal, Xavier, Zeros
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/embedshard/autodiff"
//	    "github.com/born-ml/embedshard/backend/cpu"
//	    "github.com/born-ml/embedshard/nn"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    table, err := nn.NewShardedEmbeddingTable(8, 1000, 16, backend)
//
//	    tape := autodiff.NewGradientTape()
//	    tape.StartRecording()
//	    emb, err := table.Lookup(tape, indices, autodiff.DefaultUpdateRule())
//	}
package nn
