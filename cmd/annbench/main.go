// Command annbench drives build/query benchmarks against the ANN index
// engines: load a synthetic dataset, build the configured engine, and
// optionally compare it against the in-memory baseline family and/or time
// lookup throughput. It is the CLI surface named but explicitly
// out-of-core in the index engines' own specification — a thin driver,
// not part of the hard engineering.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/annidx/pkg/engine"
	"github.com/liliang-cn/annidx/pkg/index"
)

var opts struct {
	indexType string

	numCentroids  int
	numProbe      int
	numIterations int

	efConstruction int
	efSearch       int
	mMax           int

	vectorSize int
	numVectors int
	stdDev     float64

	benchmarkBaseline   bool
	benchmarkLookupPerf bool
	numQueryVectors     int
	numResultVectors    int

	seed int64
}

func main() {
	root := &cobra.Command{
		Use:   "annbench",
		Short: "Benchmark driver for the IVFFLAT / HNSW / KNN vector-index engines",
		RunE:  run,
	}

	flags := root.Flags()
	flags.StringVar(&opts.indexType, "index_type", "hnsw", "ivfflat | hnsw | knn")
	flags.IntVar(&opts.numCentroids, "num_centroids", 16, "IVFFLAT centroid count")
	flags.IntVar(&opts.numProbe, "num_probe_centroids", 4, "IVFFLAT probe count")
	flags.IntVar(&opts.numIterations, "num_iterations", 20, "IVFFLAT max Lloyd iterations")
	flags.IntVar(&opts.efConstruction, "ef_construction", 128, "HNSW construction search width")
	flags.IntVar(&opts.efSearch, "ef_search", 64, "HNSW query search width")
	flags.IntVar(&opts.mMax, "m_max", 16, "HNSW max edges per vertex per layer")
	flags.IntVar(&opts.vectorSize, "vector_size", 128, "synthetic vector dimension")
	flags.IntVar(&opts.numVectors, "num_vectors", 10000, "synthetic dataset size")
	flags.Float64Var(&opts.stdDev, "std_dev", 5.0, "standard deviation of synthetic vector components")
	flags.BoolVar(&opts.benchmarkBaseline, "benchmark_baseline", false, "also build and compare the in-memory baseline family")
	flags.BoolVar(&opts.benchmarkLookupPerf, "benchmark_lookup_perf", false, "time query throughput")
	flags.IntVar(&opts.numQueryVectors, "num_query_vectors", 100, "number of synthetic queries to run")
	flags.IntVar(&opts.numResultVectors, "num_result_vectors", 10, "n passed to FindNClosest")
	flags.Int64Var(&opts.seed, "seed", 1, "RNG seed for reproducibility")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	log := engine.NewStdLogger(engine.LevelInfo)

	cfg := engine.DefaultConfig()
	cfg.Path = ":memory:"
	cfg.Dim = opts.vectorSize
	cfg.Seed = opts.seed
	cfg.Logger = log
	switch opts.indexType {
	case "ivfflat":
		cfg.IndexType = engine.IndexTypeIVFFlat
		cfg.IVFFlat = index.IVFFlatConfig{
			NCentroids: opts.numCentroids, NProbe: opts.numProbe,
			Dim: opts.vectorSize, MaxIters: opts.numIterations, ConvergenceFactor: 5.0,
		}
	case "hnsw":
		cfg.IndexType = engine.IndexTypeHNSW
		cfg.HNSW = index.HNSWConfig{EfConstruction: opts.efConstruction, EfSearch: opts.efSearch, MMax: opts.mMax}
	case "knn":
		cfg.IndexType = engine.IndexTypeKNN
	default:
		return fmt.Errorf("unknown index_type %q", opts.indexType)
	}

	dataRng := rand.New(rand.NewSource(opts.seed))
	vectors := make([][]float32, opts.numVectors)
	for i := range vectors {
		vectors[i] = randomVector(dataRng, opts.vectorSize, opts.stdDev)
	}
	queries := make([][]float32, opts.numQueryVectors)
	for i := range queries {
		queries[i] = randomVector(dataRng, opts.vectorSize, opts.stdDev)
	}

	e, err := engine.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	buildStart := time.Now()
	if err := e.Load(ctx, vectors); err != nil {
		return err
	}
	if err := e.Build(ctx); err != nil {
		return err
	}
	log.Info("build finished", "elapsed", time.Since(buildStart), "stats", e.Stats())

	if opts.benchmarkLookupPerf {
		queryStart := time.Now()
		for _, q := range queries {
			if _, err := e.FindNClosest(ctx, q, opts.numResultVectors); err != nil {
				return err
			}
		}
		elapsed := time.Since(queryStart)
		log.Info("lookup benchmark finished",
			"queries", len(queries), "elapsed", elapsed,
			"qps", float64(len(queries))/elapsed.Seconds())
	}

	if opts.benchmarkBaseline {
		if err := runBaseline(ctx, log, vectors, queries, cfg); err != nil {
			return err
		}
	}

	return nil
}

// runBaseline builds the handle-free in-memory family (spec §4.7) over
// the same dataset and reports its own build/query timings alongside the
// primary engine's, for comparison. This is FloatKNNIndex, not KNNIndex
// over a MemoryStore/MemoryRelation: the in-memory family returns owned
// float slices, never blob handles (spec §4.7; grounded on the
// original's knn_vec.cc).
func runBaseline(ctx context.Context, log engine.Logger, vectors, queries [][]float32, cfg engine.Config) error {
	oracle := index.NewFloatKNN(vectors, log)

	buildStart := time.Now()
	if err := oracle.Build(ctx); err != nil {
		return err
	}
	log.Info("baseline build finished", "elapsed", time.Since(buildStart))

	queryStart := time.Now()
	for _, q := range queries {
		if _, err := oracle.FindNClosest(ctx, q, opts.numResultVectors); err != nil {
			return err
		}
	}
	elapsed := time.Since(queryStart)
	log.Info("baseline lookup finished",
		"queries", len(queries), "elapsed", elapsed,
		"qps", float64(len(queries))/elapsed.Seconds())
	return nil
}

func randomVector(rng *rand.Rand, dim int, stdDev float64) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64() * stdDev)
	}
	return v
}
