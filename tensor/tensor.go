// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import "github.com/born-ml/embedshard/internal/tensor"

// RawTensor is a dense, contiguous buffer with a shape and a runtime dtype.
type RawTensor = tensor.RawTensor

// Shape represents tensor dimensions.
type Shape = tensor.Shape

// DataType represents the runtime element type of a RawTensor.
type DataType = tensor.DataType

// Device represents the compute device a buffer lives on.
type Device = tensor.Device

// Backend is the native compute interface used by the embedding operations.
type Backend = tensor.Backend

// Supported data types.
const (
	Float32 = tensor.Float32
	Int32   = tensor.Int32
	Int64   = tensor.Int64
)

// Supported devices.
const (
	CPU = tensor.CPU
)

// NewRaw creates a zero-filled tensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// FromFloat32 creates a Float32 tensor holding a copy of data.
func FromFloat32(shape Shape, data []float32, device Device) (*RawTensor, error) {
	return tensor.FromFloat32(shape, data, device)
}

// FromInt32 creates an Int32 tensor holding a copy of data.
func FromInt32(shape Shape, data []int32, device Device) (*RawTensor, error) {
	return tensor.FromInt32(shape, data, device)
}

// FromInt64 creates an Int64 tensor holding a copy of data.
func FromInt64(shape Shape, data []int64, device Device) (*RawTensor, error) {
	return tensor.FromInt64(shape, data, device)
}
