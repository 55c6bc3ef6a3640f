package main

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/born-ml/embedshard/collective"
	"github.com/born-ml/embedshard/tensor"
)

// train runs cfg.Steps synchronized steps on cfg.Workers goroutines, one per rank.
// Progress is written to progress, which may be io.Discard.
func train(ctx context.Context, cfg trainConfig, progress io.Writer) (*report, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid configuration")
	}
	group, err := collective.NewGroup(cfg.Workers, collective.Config{Timeout: cfg.Timeout, Device: tensor.CPU})
	if err != nil {
		return nil, err
	}

	workers := make([]*worker, cfg.Workers)
	for _, peer := range group.Peers() {
		w, err := newWorker(cfg, peer)
		if err != nil {
			return nil, errors.WithMessagef(err, "rank %d", peer.Rank())
		}
		workers[peer.Rank()] = w
	}
	klog.Infof("training %d steps on %d workers (group %s): batch %d, %d tables x %d rows x %d dims per worker",
		cfg.Steps, cfg.Workers, group.ID(), cfg.Batch, cfg.Tables, cfg.Rows, cfg.Dim)

	bar := newProgressBar(cfg.Steps, progress)
	losses := make([][]float32, cfg.Workers)
	eg, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		eg.Go(func() error {
			rank := w.peer.Rank()
			losses[rank] = make([]float32, 0, cfg.Steps)
			for step := 0; step < cfg.Steps; step++ {
				loss, err := w.step(ctx, step)
				if err != nil {
					return errors.WithMessagef(err, "rank %d step %d", rank, step)
				}
				losses[rank] = append(losses[rank], loss)
				if rank == 0 {
					_ = bar.Add(1)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	_ = bar.Finish()

	rep := &report{GroupID: group.ID().String(), Losses: losses[0]}
	for _, w := range workers {
		weights := w.table.Weight.Tensor()
		stats := workerStats{
			Rank:        w.peer.Rank(),
			TableShape:  weights.Shape(),
			TableBytes:  weights.ByteSize(),
			Collectives: w.peer.Sequence(),
		}
		if n := len(losses[stats.Rank]); n > 0 {
			stats.FinalLoss = losses[stats.Rank][n-1]
		}
		rep.Workers = append(rep.Workers, stats)
	}
	return rep, nil
}
