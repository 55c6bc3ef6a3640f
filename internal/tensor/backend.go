package tensor

// Backend defines the native batched compute entry points used by the embedding ops.
//
// Kernels are synchronous and operate on dense contiguous buffers. Like the rest of
// the backends, they panic on malformed input; ops validate shapes and indices before
// dispatch and convert any remaining panic into an error at their boundary.
//
// The collective entry points (reduce-scatter, all-gather, all-to-all) live on
// collective.Communicator, since they need a process group.
//
// Implementations:
//   - CPU: Pure Go (internal/backend/cpu)
type Backend interface {
	// EmbeddingGather gathers rows of weights [N, T, D] addressed by indices.
	//
	// indices is [B, T] (one row per sample/table) or [B, T, L] (a bag of L rows per
	// sample/table, sum-pooled). The result is [B, T, D]:
	//
	//	out[b, t, :] = Σ_l weights[indices[b, t, l], t, :]
	EmbeddingGather(weights, indices *RawTensor) *RawTensor

	// FusedSparseUpdate applies, in place, one SGD step to the rows of weights addressed by
	// indices, using grad [B, T, D] as the gradient of the EmbeddingGather output:
	//
	//	weights[indices[b, t, l], t, :] -= lr * grad[b, t, :]
	//
	// Rows addressed several times receive the sum of their contributions.
	FusedSparseUpdate(grad, weights, indices *RawTensor, lr float32)

	// TransposeContiguous swaps the two leading axes of x and returns a new contiguous buffer.
	TransposeContiguous(x *RawTensor) *RawTensor

	// ZeroMany sets every element of every tensor to zero in one dispatch.
	ZeroMany(tensors []*RawTensor)

	// Metadata
	Name() string
	Device() Device
}
