package ops

import "errors"

// Common errors.
var (
	ErrShapeMismatch        = errors.New("shape mismatch")
	ErrInvalidDType         = errors.New("invalid dtype")
	ErrIndexOutOfRange      = errors.New("embedding index out of range")
	ErrIndivisibleBatch     = errors.New("batch size not divisible by worker count")
	ErrInvalidUpdateRule    = errors.New("invalid update rule")
	ErrUpdateAlreadyApplied = errors.New("fused update already applied")
	ErrKernel               = errors.New("kernel failure")
)
