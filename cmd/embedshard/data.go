package main

import (
	"math/rand"

	"github.com/janpfeifer/must"

	"github.com/born-ml/embedshard/tensor"
)

// batch is one synthetic step, identical on every worker.
type batch struct {
	ids     []int64   // [B, T, L] global feature ids
	targets []float32 // [B]
}

// newBatch draws the batch of a step. Every worker seeds with (seed, step), so all of
// them see the same ids and targets without exchanging data.
func newBatch(cfg trainConfig, step int) batch {
	rng := rand.New(rand.NewSource(cfg.Seed + int64(step)*7919))
	b := batch{
		ids:     make([]int64, cfg.Batch*cfg.Tables*cfg.Bag),
		targets: make([]float32, cfg.Batch),
	}
	for i := range b.ids {
		b.ids[i] = rng.Int63n(cfg.Vocab)
	}
	for s := 0; s < cfg.Batch; s++ {
		var sum float32
		for k := 0; k < cfg.Tables*cfg.Bag; k++ {
			sum += featureValue(b.ids[s*cfg.Tables*cfg.Bag+k])
		}
		b.targets[s] = sum / float32(cfg.Tables*cfg.Bag)
	}
	return b
}

// featureValue is the hidden per-id signal the model has to learn.
func featureValue(id int64) float32 {
	return float32(id%17)/17 - 0.5
}

// localRow hashes a global id into one of rows local rows. Each rank uses its own hash,
// so an id is spread over a different row of every shard and the pooled embedding of
// an id is the sum of one row per worker.
func localRow(id int64, rank, rows int) int {
	h := uint64(id)*0x9E3779B97F4A7C15 + uint64(rank+1)*0xBF58476D1CE4E5B9
	h ^= h >> 31
	return int(h % uint64(rows))
}

// localIndices maps the batch ids to this rank's rows: [B, T] for bags of one,
// [B, T, L] otherwise.
func localIndices(cfg trainConfig, b batch, rank int) *tensor.RawTensor {
	rows := make([]int32, len(b.ids))
	for i, id := range b.ids {
		rows[i] = int32(localRow(id, rank, cfg.Rows))
	}
	shape := tensor.Shape{cfg.Batch, cfg.Tables, cfg.Bag}
	if cfg.Bag == 1 {
		shape = tensor.Shape{cfg.Batch, cfg.Tables}
	}
	return must.M1(tensor.FromInt32(shape, rows, tensor.CPU))
}

// localTargets returns the [B/W, 1] targets of the samples this rank scores after the
// all-to-all.
func localTargets(cfg trainConfig, b batch, rank int) *tensor.RawTensor {
	per := cfg.Batch / cfg.Workers
	return must.M1(tensor.FromFloat32(tensor.Shape{per, 1}, b.targets[rank*per:(rank+1)*per], tensor.CPU))
}
