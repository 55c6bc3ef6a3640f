// Package tensor provides the dense buffer types shared by the embedshard kernels,
// ops and collectives.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types.
//
// Embedding values and gradients are Float32. Sparse indices are Int32 or Int64.
const (
	Float32 DataType = iota
	Int32
	Int64
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Int64:
		return 8
	default:
		panic("unknown data type")
	}
}

// IsIndex reports whether the data type can hold sparse indices.
func (dt DataType) IsIndex() bool {
	return dt == Int32 || dt == Int64
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}
