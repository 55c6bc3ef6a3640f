package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas/blas32"
	"k8s.io/klog/v2"

	"github.com/born-ml/embedshard/autodiff"
	"github.com/born-ml/embedshard/backend/cpu"
	"github.com/born-ml/embedshard/collective"
	"github.com/born-ml/embedshard/nn"
	"github.com/born-ml/embedshard/optim"
	"github.com/born-ml/embedshard/tensor"
)

// trainConfig holds the demo hyperparameters.
type trainConfig struct {
	Workers int   // W in-process workers
	Batch   int   // global batch B, divisible by W
	Tables  int   // T tables, divisible by W
	Rows    int   // rows per table on each worker
	Dim     int   // embedding dimension D
	Bag     int   // ids per sample and table, sum-pooled
	Vocab   int64 // global id space
	Steps   int
	Seed    int64

	EmbeddingLR float32 // fused update rate of the tables
	HeadLR      float32 // SGD rate of the dense head
	Timeout     time.Duration
}

func defaultTrainConfig() trainConfig {
	return trainConfig{
		Workers:     4,
		Batch:       64,
		Tables:      8,
		Rows:        512,
		Dim:         16,
		Bag:         1,
		Vocab:       100_000,
		Steps:       200,
		Seed:        42,
		EmbeddingLR: 0.05,
		HeadLR:      0.05,
		Timeout:     time.Minute,
	}
}

func (c trainConfig) validate() error {
	switch {
	case c.Workers < 1:
		return errors.Errorf("workers must be >= 1, got %d", c.Workers)
	case c.Batch < 1 || c.Batch%c.Workers != 0:
		return errors.Wrapf(autodiff.ErrIndivisibleBatch, "batch %d must be a positive multiple of workers %d", c.Batch, c.Workers)
	case c.Tables < 1 || c.Tables%c.Workers != 0:
		return errors.Errorf("tables %d must be a positive multiple of workers %d", c.Tables, c.Workers)
	case c.Rows < 1 || c.Dim < 1 || c.Bag < 1 || c.Vocab < 1 || c.Steps < 0:
		return errors.Errorf("rows, dim, bag and vocab must be positive and steps non-negative: %+v", c)
	}
	return autodiff.UpdateRule{LearningRate: c.EmbeddingLR}.Validate()
}

// worker is one rank: its table shard, a replica of the head, and the tape recording
// the embedding pipeline.
type worker struct {
	cfg     trainConfig
	peer    *collective.Peer
	backend *autodiff.Backend[*cpu.Backend]
	table   *nn.ShardedEmbeddingTable
	head    *nn.Linear
	opt     *optim.FusedSGD
	rule    autodiff.UpdateRule
}

func newWorker(cfg trainConfig, peer *collective.Peer) (*worker, error) {
	backend := autodiff.New(cpu.New())
	rng := rand.New(rand.NewSource(cfg.Seed + int64(peer.Rank()) + 1))
	table, err := nn.NewShardedEmbeddingTableWithRand(cfg.Tables, cfg.Rows, cfg.Dim, backend.Inner(), rng)
	if err != nil {
		return nil, err
	}
	// Same seed on every rank, so head replicas start identical.
	head := nn.NewLinear(cfg.Tables*cfg.Dim, 1, tensor.CPU, rand.New(rand.NewSource(cfg.Seed)))
	opt := optim.NewFusedSGD(optim.FusedSGDConfig{LR: cfg.HeadLR}, backend,
		optim.ParamGroup{Params: head.Parameters()},
		optim.ParamGroup{Params: table.Parameters()},
	)
	return &worker{
		cfg:     cfg,
		peer:    peer,
		backend: backend,
		table:   table,
		head:    head,
		opt:     opt,
		rule:    autodiff.UpdateRule{LearningRate: cfg.EmbeddingLR},
	}, nil
}

// step runs one forward and backward pass and returns the loss averaged over all
// workers. Every rank must call step with the same step number.
func (w *worker) step(ctx context.Context, step int) (float32, error) {
	tape := w.backend.Tape()
	tape.Clear()
	tape.StartRecording()
	defer tape.StopRecording()

	data := newBatch(w.cfg, step)
	indices := localIndices(w.cfg, data, w.peer.Rank())

	// [B, T, D] partial sums of this rank's shard.
	pooled, err := w.table.Lookup(tape, indices, w.rule)
	if err != nil {
		return 0, err
	}
	// [B, T/W, D] complete embeddings of T/W tables.
	reduced, err := w.backend.ReduceScatter(ctx, w.peer, pooled, 1)
	if err != nil {
		return 0, err
	}
	// [B/W, T, D] complete embeddings of B/W samples.
	local, err := w.backend.AllToAll(ctx, w.peer, reduced)
	if err != nil {
		return 0, err
	}

	scores, err := w.head.Forward(local)
	if err != nil {
		return 0, err
	}
	loss, gradScores, err := nn.MSELoss(scores, localTargets(w.cfg, data, w.peer.Rank()))
	if err != nil {
		return 0, err
	}
	// The global loss is the mean of the per-rank losses.
	scale(gradScores, 1/float32(w.cfg.Workers))
	gradLocal, err := w.head.Backward(local, gradScores)
	if err != nil {
		return 0, err
	}

	globalLoss, err := w.syncHead(ctx, loss)
	if err != nil {
		return 0, err
	}

	grads, err := tape.Backward(ctx, gradLocal)
	if err != nil {
		return 0, err
	}
	if err := w.opt.Step(grads); err != nil {
		return 0, err
	}
	w.opt.ZeroGrad()

	klog.V(1).Infof("rank %d step %d: local loss %.5f, global loss %.5f", w.peer.Rank(), step, loss, globalLoss)
	return globalLoss, nil
}

// syncHead sums the head gradients of all ranks, so every replica takes the same step,
// and returns the mean of the ranks' losses. Gradients and loss travel in one all-gather.
func (w *worker) syncHead(ctx context.Context, loss float32) (float32, error) {
	params := w.head.Parameters()
	n := 1
	for _, p := range params {
		n += p.Grad().NumElements()
	}
	packed := must.M1(tensor.NewRaw(tensor.Shape{1, n}, tensor.Float32, tensor.CPU))
	buf := packed.AsFloat32()
	offset := 0
	for _, p := range params {
		offset += copy(buf[offset:], p.Grad().AsFloat32())
	}
	buf[offset] = loss

	gathered, err := w.peer.AllGather(ctx, packed, 0) // [W, n]
	if err != nil {
		return 0, errors.WithMessage(err, "sync head")
	}
	all := gathered.AsFloat32()
	sum := blas32.Vector{N: n, Inc: 1, Data: make([]float32, n)}
	for r := 0; r < w.cfg.Workers; r++ {
		blas32.Axpy(1, blas32.Vector{N: n, Inc: 1, Data: all[r*n : (r+1)*n]}, sum)
	}

	offset = 0
	for _, p := range params {
		offset += copy(p.Grad().AsFloat32(), sum.Data[offset:])
	}
	return sum.Data[offset] / float32(w.cfg.Workers), nil
}

func scale(t *tensor.RawTensor, factor float32) {
	v := t.AsFloat32()
	blas32.Scal(factor, blas32.Vector{N: len(v), Inc: 1, Data: v})
}
