package nn

import (
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/born-ml/embedshard/internal/autodiff"
	"github.com/born-ml/embedshard/internal/autodiff/ops"
	"github.com/born-ml/embedshard/internal/tensor"
)

// ErrInvalidShape is returned when a layer is built from unusable dimensions.
var ErrInvalidShape = errors.New("nn: invalid shape")

// ShardedEmbeddingTable holds this worker's shard of T embedding tables as one buffer.
//
// Architecture:
//   - Weight: [NumEmbeddings, NumTables, EmbeddingDim], updated in place by the
//     backward of Lookup and never resized
//   - Lookup: indices [B, T] or [B, T, L] -> embeddings [B, T, EmbeddingDim]
//   - Backward: fused SGD step on the addressed rows; no gradient is produced
//
// Lookups read-lock the table and fused updates write-lock it, so concurrent lookups
// and updates of one table on one worker are serialized.
//
// Example:
//
//	// 8 tables of 1000 rows, dimension 16
//	table, _ := nn.NewShardedEmbeddingTable(8, 1000, 16, backend)
//
//	tape := autodiff.NewGradientTape()
//	tape.StartRecording()
//	emb, _ := table.Lookup(tape, indices, ops.DefaultUpdateRule()) // [B, 8, 16]
type ShardedEmbeddingTable struct {
	Weight        *Parameter // [NumEmbeddings, NumTables, EmbeddingDim]
	NumTables     int
	NumEmbeddings int
	EmbeddingDim  int

	backend tensor.Backend
	mu      sync.RWMutex
}

// NewShardedEmbeddingTable creates a table with weights drawn from N(0, 1).
//
// For other initialization strategies, initialize the weight tensor manually and pass it
// to NewShardedEmbeddingTableWithWeight.
func NewShardedEmbeddingTable(numTables, numEmbeddings, embeddingDim int, backend tensor.Backend) (*ShardedEmbeddingTable, error) {
	return NewShardedEmbeddingTableWithRand(numTables, numEmbeddings, embeddingDim, backend, nil)
}

// NewShardedEmbeddingTableWithRand is NewShardedEmbeddingTable drawing from rng.
func NewShardedEmbeddingTableWithRand(numTables, numEmbeddings, embeddingDim int, backend tensor.Backend, rng *rand.Rand) (*ShardedEmbeddingTable, error) {
	if numTables <= 0 || numEmbeddings <= 0 || embeddingDim <= 0 {
		return nil, errors.Wrapf(ErrInvalidShape, "embedding table: tables=%d embeddings=%d dim=%d",
			numTables, numEmbeddings, embeddingDim)
	}
	weight := Normal(tensor.Shape{numEmbeddings, numTables, embeddingDim}, backend.Device(), rng)
	return NewShardedEmbeddingTableWithWeight(weight, backend)
}

// NewShardedEmbeddingTableWithWeight creates a table using the provided
// [numEmbeddings, numTables, embeddingDim] float32 weights. The table takes ownership
// of the buffer.
func NewShardedEmbeddingTableWithWeight(weight *tensor.RawTensor, backend tensor.Backend) (*ShardedEmbeddingTable, error) {
	if weight == nil || weight.DType() != tensor.Float32 || len(weight.Shape()) != 3 {
		return nil, errors.Wrapf(ErrInvalidShape, "embedding table: weight must be a 3D float32 tensor, got %v", weight)
	}
	shape := weight.Shape()
	return &ShardedEmbeddingTable{
		Weight:        NewFusedParameter("embedding.weight", weight),
		NumEmbeddings: shape[0],
		NumTables:     shape[1],
		EmbeddingDim:  shape[2],
		backend:       backend,
	}, nil
}

// Lookup gathers the rows addressed by indices and returns [B, NumTables, EmbeddingDim].
//
// Nothing is mutated at call time. When tape is recording, the backward pass of the
// tape updates the addressed rows in place with rule; the update happens exactly once,
// so no optimizer step must be applied to Weight afterwards.
func (e *ShardedEmbeddingTable) Lookup(tape *autodiff.GradientTape, indices *tensor.RawTensor, rule ops.UpdateRule) (*tensor.RawTensor, error) {
	out, err := autodiff.Lookup(tape, e.backend, e.Weight.Tensor(), indices, rule, &e.mu)
	if err != nil {
		return nil, errors.WithMessage(err, e.Weight.Name())
	}
	return out, nil
}

// Parameters returns the table weight.
func (e *ShardedEmbeddingTable) Parameters() []*Parameter {
	return []*Parameter{e.Weight}
}
