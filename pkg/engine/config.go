package engine

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/liliang-cn/annidx/pkg/annerr"
	"github.com/liliang-cn/annidx/pkg/index"
)

// IndexType selects which of the three engines an Engine builds.
type IndexType string

const (
	IndexTypeKNN     IndexType = "knn"
	IndexTypeIVFFlat IndexType = "ivfflat"
	IndexTypeHNSW    IndexType = "hnsw"
)

// Config composes the dimension, storage path, and per-engine knobs a
// benchmark run or a long-lived server needs (spec §6/§7), mirroring the
// teacher's single-struct-with-sub-configs Config shape.
type Config struct {
	Path      string    `yaml:"path"`       // sqlite file path; ":memory:" for an ephemeral DB
	Dim       int       `yaml:"dim"`        // vector dimension, must be > 0
	IndexType IndexType `yaml:"index_type"` // knn | ivfflat | hnsw

	IVFFlat index.IVFFlatConfig `yaml:"ivfflat"`
	HNSW    index.HNSWConfig    `yaml:"hnsw"`

	BlobCacheSize int `yaml:"blob_cache_size"` // materialize-floats LRU entries, 0 disables caching

	Logger Logger `yaml:"-"`
	Seed   int64  `yaml:"seed"` // drives centroid sampling and HNSW level sampling
}

// DefaultConfig mirrors the teacher's DefaultConfig: sensible defaults for
// every sub-config, HNSW selected as the default engine.
func DefaultConfig() Config {
	return Config{
		Path:          ":memory:",
		Dim:           0,
		IndexType:     IndexTypeHNSW,
		IVFFlat:       DefaultIVFFlatConfig(),
		HNSW:          DefaultHNSWConfig(),
		BlobCacheSize: 4096,
		Seed:          1,
	}
}

// DefaultIVFFlatConfig returns the IVFFLAT defaults used when a config
// omits the section entirely.
func DefaultIVFFlatConfig() index.IVFFlatConfig {
	return index.IVFFlatConfig{
		NCentroids:        16,
		NProbe:            4,
		MaxIters:          20,
		ConvergenceFactor: 5.0,
	}
}

// DefaultHNSWConfig returns the HNSW defaults used when a config omits the
// section entirely.
func DefaultHNSWConfig() index.HNSWConfig {
	return index.HNSWConfig{
		EfConstruction: 128,
		EfSearch:       64,
		MMax:           16,
	}
}

func (c Config) validate() error {
	if c.Dim <= 0 {
		return annerr.Wrap("config.validate", annerr.ErrConfig)
	}
	switch c.IndexType {
	case IndexTypeKNN, IndexTypeIVFFlat, IndexTypeHNSW:
	default:
		return annerr.Wrap("config.validate", annerr.ErrConfig)
	}
	return nil
}

// LoadConfigFile reads a YAML config file and layers it over
// DefaultConfig, so a file only needs to specify the fields it overrides.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, annerr.Wrap("config.loadFile", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, annerr.Wrap("config.loadFile", err)
	}
	return cfg, nil
}
