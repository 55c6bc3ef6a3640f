// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the optimizer for the sharded embedding pipeline.
//
// # Overview
//
// This package contains:
//   - FusedSGD: plain SGD for dense parameters; skips embedding tables, which are
//     updated in place during backward
//   - FusedSGD.ZeroGrad: zeroes every gradient of every group in one dispatch
//   - Optimizer interface for custom optimizers
//
// # Basic Usage
//
//	opt := optim.NewFusedSGD(optim.FusedSGDConfig{LR: 0.05}, backend,
//	    optim.ParamGroup{Params: head.Parameters()},
//	    optim.ParamGroup{Params: table.Parameters()},
//	)
//
//	grads, err := tape.Backward(ctx, grad)
//	err = opt.Step(grads)
//	opt.ZeroGrad()
package optim
