// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package collective provides the in-process process group used to shard embeddings
// across workers.
//
// # Overview
//
// A Group of W ranks runs reduce-scatter, all-gather and all-to-all between goroutines.
// Every collective is a barrier tagged with a sequence number and a descriptor of its
// arguments, so desynchronized callers fail fast instead of blocking forever:
//   - ErrDesynchronized: ranks issued different collectives at the same sequence
//   - ErrTimeout: a peer did not arrive within Config.Timeout
//   - ErrCanceled: the caller's context was done
//   - ErrGroupBroken: a previous collective failed; the group must be recreated
//
// # Basic Usage
//
//	group, err := collective.NewGroup(4, collective.DefaultConfig())
//	var eg errgroup.Group
//	for _, peer := range group.Peers() {
//	    eg.Go(func() error { return worker(ctx, peer) })
//	}
//	err = eg.Wait()
package collective

import "github.com/born-ml/embedshard/internal/collective"

// Topology exposes a worker's rank, the worker count and its device.
type Topology = collective.Topology

// Communicator runs collectives for one rank.
type Communicator = collective.Communicator

// Group is an in-process process group.
type Group = collective.Group

// Peer is one rank's handle on a Group.
type Peer = collective.Peer

// Config configures a process group.
type Config = collective.Config

// Errors returned by collectives.
var (
	ErrInvalidArgument = collective.ErrInvalidArgument
	ErrDesynchronized  = collective.ErrDesynchronized
	ErrTimeout         = collective.ErrTimeout
	ErrCanceled        = collective.ErrCanceled
	ErrGroupBroken     = collective.ErrGroupBroken
)

// DefaultConfig returns the default group configuration.
func DefaultConfig() Config {
	return collective.DefaultConfig()
}

// NewGroup creates a group of size ranks.
func NewGroup(size int, cfg Config) (*Group, error) {
	return collective.NewGroup(size, cfg)
}
