// Command embedshard trains a toy recommendation model whose embedding tables are
// sharded across in-process workers.
//
// Each worker holds a hashed shard of every table. Per step, every worker looks up the
// whole batch in its shard, the partial embeddings are summed and split by table with a
// reduce-scatter, and an all-to-all hands each worker all tables for its slice of the
// batch. A dense head scores the samples. The backward pass updates the table shards in
// place; the head is stepped by SGD.
//
// Usage:
//
//	embedshard -workers=4 -batch=64 -tables=8 -steps=200 -v=1
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	defaults = defaultTrainConfig()

	flagWorkers     = flag.Int("workers", defaults.Workers, "Number of in-process workers.")
	flagBatch       = flag.Int("batch", defaults.Batch, "Global batch size, must be divisible by -workers.")
	flagTables      = flag.Int("tables", defaults.Tables, "Number of embedding tables, must be divisible by -workers.")
	flagRows        = flag.Int("rows", defaults.Rows, "Rows per table on each worker.")
	flagDim         = flag.Int("dim", defaults.Dim, "Embedding dimension.")
	flagBag         = flag.Int("bag", defaults.Bag, "Ids per sample and table, sum-pooled.")
	flagVocab       = flag.Int64("vocab", defaults.Vocab, "Size of the global id space.")
	flagSteps       = flag.Int("steps", defaults.Steps, "Number of training steps.")
	flagSeed        = flag.Int64("seed", defaults.Seed, "Random seed for data and initialization.")
	flagEmbeddingLR = flag.Float64("embedding_lr", float64(defaults.EmbeddingLR), "Learning rate of the fused embedding update.")
	flagHeadLR      = flag.Float64("head_lr", float64(defaults.HeadLR), "Learning rate of the dense head.")
	flagTimeout     = flag.Duration("timeout", defaults.Timeout, "Maximum wait for peers in one collective.")
	flagQuiet       = flag.Bool("quiet", false, "Disable the progress bar.")
)

func configFromFlags() trainConfig {
	return trainConfig{
		Workers:     *flagWorkers,
		Batch:       *flagBatch,
		Tables:      *flagTables,
		Rows:        *flagRows,
		Dim:         *flagDim,
		Bag:         *flagBag,
		Vocab:       *flagVocab,
		Steps:       *flagSteps,
		Seed:        *flagSeed,
		EmbeddingLR: float32(*flagEmbeddingLR),
		HeadLR:      float32(*flagHeadLR),
		Timeout:     *flagTimeout,
	}
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	var progress io.Writer = os.Stderr
	if *flagQuiet {
		progress = io.Discard
	}
	err := exceptions.TryCatch[error](func() {
		rep := must.M1(train(context.Background(), configFromFlags(), progress))
		fmt.Println(rep.Summary())
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}
