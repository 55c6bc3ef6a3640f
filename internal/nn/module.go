// Package nn implements the model components of the sharded embedding pipeline.
//
// This package provides:
//   - Module interface: anything owning trainable parameters
//   - Parameter: a trainable buffer with its gradient and gradient history
//   - ShardedEmbeddingTable: [num_embeddings, num_tables, D] tables looked up by sparse
//     indices and updated in place during backward
//   - Linear: a dense scoring head over pooled embeddings
//   - MSELoss: mean squared error with its gradient
//
// Only the embedding pipeline is recorded on a tape. Linear and MSELoss compute their
// gradients directly, which is all a single dense head needs.
package nn

// Module is the base interface for all neural network components.
//
// Modules can be composed by concatenating their parameters:
//
//	params := append(table.Parameters(), head.Parameters()...)
//	opt := optim.NewFusedSGD(optim.FusedSGDConfig{LR: 0.05}, backend, optim.ParamGroup{Params: params})
type Module interface {
	// Parameters returns all trainable parameters of this module.
	//
	// Returns an empty slice for modules without trainable parameters.
	Parameters() []*Parameter
}
