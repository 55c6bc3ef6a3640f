// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand"

	"github.com/born-ml/embedshard/internal/nn"
	"github.com/born-ml/embedshard/tensor"
)

// Module is the base interface for all neural network components.
type Module = nn.Module

// Parameter represents a trainable parameter.
type Parameter = nn.Parameter

// ShardedEmbeddingTable holds one worker's shard of T embedding tables.
type ShardedEmbeddingTable = nn.ShardedEmbeddingTable

// Linear implements a fully connected layer.
type Linear = nn.Linear

// ErrInvalidShape is returned when a layer is built from unusable dimensions.
var ErrInvalidShape = nn.ErrInvalidShape

// NewParameter creates a new trainable parameter.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return nn.NewParameter(name, t)
}

// NewShardedEmbeddingTable creates a table with weights drawn from N(0, 1).
func NewShardedEmbeddingTable(numTables, numEmbeddings, embeddingDim int, backend tensor.Backend) (*ShardedEmbeddingTable, error) {
	return nn.NewShardedEmbeddingTable(numTables, numEmbeddings, embeddingDim, backend)
}

// NewShardedEmbeddingTableWithRand creates a table with weights drawn from N(0, 1) using rng.
func NewShardedEmbeddingTableWithRand(numTables, numEmbeddings, embeddingDim int, backend tensor.Backend, rng *rand.Rand) (*ShardedEmbeddingTable, error) {
	return nn.NewShardedEmbeddingTableWithRand(numTables, numEmbeddings, embeddingDim, backend, rng)
}

// NewShardedEmbeddingTableWithWeight creates a table from a pre-initialized [N, T, D] buffer.
func NewShardedEmbeddingTableWithWeight(weight *tensor.RawTensor, backend tensor.Backend) (*ShardedEmbeddingTable, error) {
	return nn.NewShardedEmbeddingTableWithWeight(weight, backend)
}

// NewLinear creates a new Linear layer. rng may be nil.
func NewLinear(inFeatures, outFeatures int, device tensor.Device, rng *rand.Rand) *Linear {
	return nn.NewLinear(inFeatures, outFeatures, device, rng)
}

// MSELoss returns mean((predictions - targets)²) and its gradient.
func MSELoss(predictions, targets *tensor.RawTensor) (float32, *tensor.RawTensor, error) {
	return nn.MSELoss(predictions, targets)
}

// Normal creates a tensor drawn from N(0, 1). rng may be nil.
func Normal(shape tensor.Shape, device tensor.Device, rng *rand.Rand) *tensor.RawTensor {
	return nn.Normal(shape, device, rng)
}
