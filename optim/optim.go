// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"github.com/born-ml/embedshard/internal/optim"
	"github.com/born-ml/embedshard/tensor"
)

// Optimizer is the base interface for all optimizers.
type Optimizer = optim.Optimizer

// FusedSGD is SGD for dense parameters with a fused gradient reset.
type FusedSGD = optim.FusedSGD

// FusedSGDConfig holds configuration for FusedSGD.
type FusedSGDConfig = optim.FusedSGDConfig

// ParamGroup is a set of parameters sharing one learning rate.
type ParamGroup = optim.ParamGroup

// ErrGradientMismatch is returned by Step when a gradient does not match its parameter.
var ErrGradientMismatch = optim.ErrGradientMismatch

// NewFusedSGD creates a new FusedSGD optimizer.
func NewFusedSGD(config FusedSGDConfig, backend tensor.Backend, groups ...ParamGroup) *FusedSGD {
	return optim.NewFusedSGD(config, backend, groups...)
}
