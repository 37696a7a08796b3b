package index

import (
	"container/heap"
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/liliang-cn/annidx/pkg/annerr"
	"github.com/liliang-cn/annidx/pkg/blobstore"
	"github.com/liliang-cn/annidx/pkg/distance"
	"github.com/liliang-cn/annidx/pkg/relation"
)

// HNSWConfig configures the HNSW engine (spec §4.6).
type HNSWConfig struct {
	EfConstruction int
	EfSearch       int
	MMax           int
}

func (c HNSWConfig) validate() error {
	if c.MMax <= 0 || c.EfConstruction <= 0 || c.EfSearch <= 0 {
		return annerr.ErrConfig
	}
	return nil
}

// hnswLayer holds one navigable-small-world graph: which vertex ids it
// contains and their adjacency lists, indexed densely by vertex id
// (spec §9 design note: "prefer an indexed vector over a hash map").
type hnswLayer struct {
	inLayer []bool
	edges   [][]int
}

func newHNSWLayer() *hnswLayer { return &hnswLayer{} }

func (l *hnswLayer) ensure(n int) {
	for len(l.inLayer) < n {
		l.inLayer = append(l.inLayer, false)
		l.edges = append(l.edges, nil)
	}
}

func (l *hnswLayer) register(v int, neighbors []int) {
	l.ensure(v + 1)
	l.inLayer[v] = true
	l.edges[v] = append([]int(nil), neighbors...)
}

func (l *hnswLayer) addEdge(from, to int) {
	l.ensure(from + 1)
	for _, n := range l.edges[from] {
		if n == to {
			return
		}
	}
	l.edges[from] = append(l.edges[from], to)
}

func (l *hnswLayer) setEdges(v int, neighbors []int) {
	l.ensure(v + 1)
	l.edges[v] = append([]int(nil), neighbors...)
}

func (l *hnswLayer) has(v int) bool { return v < len(l.inLayer) && l.inLayer[v] }

func (l *hnswLayer) neighborsOf(v int) []int {
	if v >= len(l.edges) {
		return nil
	}
	return l.edges[v]
}

func (l *hnswLayer) size() int {
	c := 0
	for _, in := range l.inLayer {
		if in {
			c++
		}
	}
	return c
}

// HNSWIndex is the hierarchical navigable small-world engine (spec §4.6).
type HNSWIndex struct {
	mainRel relation.Relation
	kernel  *distance.Kernel
	cfg     HNSWConfig
	rng     *rand.Rand
	mL      float64
	log     Logger

	vertices   []blobstore.BlobHandle
	layers     []*hnswLayer
	entryPoint int
}

// NewHNSW constructs an HNSW engine. rng drives per-vertex level
// sampling; supply a fixed-seed generator for deterministic tests.
func NewHNSW(mainRel relation.Relation, kernel *distance.Kernel, cfg HNSWConfig, rng *rand.Rand, log Logger) (*HNSWIndex, error) {
	if err := cfg.validate(); err != nil {
		return nil, annerr.Wrap("hnsw.new", err)
	}
	return &HNSWIndex{
		mainRel: mainRel, kernel: kernel, cfg: cfg, rng: rng,
		mL:         1.0 / math.Log(float64(cfg.MMax)),
		log:        logOrNoop(log),
		layers:     []*hnswLayer{newHNSWLayer()},
		entryPoint: -1,
	}, nil
}

func (ix *HNSWIndex) Build(ctx context.Context) error {
	count := 0
	err := ix.mainRel.Scan(ctx, 0, func(rec relation.Record) (bool, error) {
		if err := ix.insert(ctx, rec.Handle); err != nil {
			return false, err
		}
		count++
		return true, nil
	})
	if err != nil {
		return annerr.Wrap("hnsw.build", err)
	}
	ix.log.Debug("hnsw build complete", "count", count, "layers", len(ix.layers))
	return nil
}

// sampleLevel implements the standard HNSW exponential level assignment:
// floor(-ln(u) * mL), u uniform in (0, 1) (a zero draw is redrawn).
func (ix *HNSWIndex) sampleLevel() int {
	u := ix.rng.Float64()
	for u == 0 {
		u = ix.rng.Float64()
	}
	return int(math.Floor(-math.Log(u) * ix.mL))
}

// insert adds a new vertex holding handle h, following spec §4.6 steps
// 1-7. The "graph empty" special case and the general search-and-connect
// path are unified: both fall through to the same layer-extension tail,
// which is what allows the very first inserted vertex to also land in
// higher layers if its sampled level warrants it.
func (ix *HNSWIndex) insert(ctx context.Context, h blobstore.BlobHandle) error {
	v := len(ix.vertices)
	ix.vertices = append(ix.vertices, h)
	targetLevel := ix.sampleLevel()
	topBefore := len(ix.layers) - 1

	distToVertex := func(id int) (float32, error) {
		return ix.kernel.Blob(ctx, h, ix.vertices[id])
	}

	if v == 0 {
		ix.layers[0].register(v, nil)
		ix.entryPoint = v
	} else {
		entry := []int{ix.entryPoint}

		for lc := topBefore; lc > targetLevel; lc-- {
			nearest, err := ix.searchLayer(distToVertex, entry, 1, lc)
			if err != nil {
				return err
			}
			if len(nearest) > 0 {
				entry = nearest[:1]
			}
		}

		start := topBefore
		if targetLevel < start {
			start = targetLevel
		}
		for lc := start; lc >= 0; lc-- {
			nearest, err := ix.searchLayer(distToVertex, entry, ix.cfg.EfConstruction, lc)
			if err != nil {
				return err
			}
			neighbors, err := ix.selectNeighbors(distToVertex, nearest, ix.cfg.MMax)
			if err != nil {
				return err
			}

			ix.layers[lc].register(v, neighbors)
			for _, n := range neighbors {
				ix.layers[lc].addEdge(n, v)
				if len(ix.layers[lc].neighborsOf(n)) > ix.cfg.MMax {
					nHandle := ix.vertices[n]
					distToN := func(id int) (float32, error) {
						return ix.kernel.Blob(ctx, nHandle, ix.vertices[id])
					}
					pruned, err := ix.selectNeighbors(distToN, ix.layers[lc].neighborsOf(n), ix.cfg.MMax)
					if err != nil {
						return err
					}
					ix.layers[lc].setEdges(n, pruned)
				}
			}
			entry = nearest
		}
	}

	for targetLevel > len(ix.layers)-1 {
		ix.layers = append(ix.layers, newHNSWLayer())
	}
	if targetLevel > topBefore {
		for lc := topBefore + 1; lc <= targetLevel; lc++ {
			ix.layers[lc].register(v, nil)
		}
		ix.entryPoint = v
	}
	return nil
}

type hnswItem struct {
	id   int
	dist float32
}

type minItemHeap []hnswItem

func (h minItemHeap) Len() int            { return len(h) }
func (h minItemHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minItemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minItemHeap) Push(x interface{}) { *h = append(*h, x.(hnswItem)) }
func (h *minItemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

type maxItemHeap []hnswItem

func (h maxItemHeap) Len() int            { return len(h) }
func (h maxItemHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxItemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxItemHeap) Push(x interface{}) { *h = append(*h, x.(hnswItem)) }
func (h *maxItemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// searchLayer is the greedy best-first search of spec §4.6: a min-heap
// frontier and a max-heap of the ef best results found so far, expanding
// until the frontier's best candidate can no longer beat the worst kept
// result.
func (ix *HNSWIndex) searchLayer(distTo func(int) (float32, error), entry []int, ef, layer int) ([]int, error) {
	visited := make(map[int]bool, ef*2)
	frontier := &minItemHeap{}
	result := &maxItemHeap{}

	for _, id := range entry {
		if visited[id] {
			continue
		}
		visited[id] = true
		d, err := distTo(id)
		if err != nil {
			return nil, err
		}
		heap.Push(frontier, hnswItem{id, d})
		heap.Push(result, hnswItem{id, d})
	}

	layerObj := ix.layers[layer]
	for frontier.Len() > 0 {
		best := (*frontier)[0]
		if result.Len() >= ef && best.dist > (*result)[0].dist {
			break
		}
		cur := heap.Pop(frontier).(hnswItem)

		for _, n := range layerObj.neighborsOf(cur.id) {
			if visited[n] {
				continue
			}
			visited[n] = true
			d, err := distTo(n)
			if err != nil {
				return nil, err
			}
			if result.Len() < ef || d < (*result)[0].dist {
				heap.Push(frontier, hnswItem{n, d})
				heap.Push(result, hnswItem{n, d})
				if result.Len() > ef {
					heap.Pop(result)
				}
			}
		}
	}

	out := make([]hnswItem, result.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(result).(hnswItem)
	}
	ids := make([]int, len(out))
	for i, it := range out {
		ids[i] = it.id
	}
	return ids, nil
}

// selectNeighbors keeps the m candidates closest to the reference point
// distTo measures against.
func (ix *HNSWIndex) selectNeighbors(distTo func(int) (float32, error), candidates []int, m int) ([]int, error) {
	type scored struct {
		id   int
		dist float32
	}
	scoredList := make([]scored, len(candidates))
	for i, id := range candidates {
		d, err := distTo(id)
		if err != nil {
			return nil, err
		}
		scoredList[i] = scored{id: id, dist: d}
	}
	sort.SliceStable(scoredList, func(i, j int) bool { return scoredList[i].dist < scoredList[j].dist })
	if len(scoredList) > m {
		scoredList = scoredList[:m]
	}
	ids := make([]int, len(scoredList))
	for i, s := range scoredList {
		ids[i] = s.id
	}
	return ids, nil
}

// FindNClosest implements spec §4.6's top-level query: descend to layer
// 1 keeping a single entry point, then run a wide search at layer 0 and
// keep the n closest. Per the corrected contract (spec §4.6/§9), the
// result maps chosen neighbor ids back through vertices[neighbors[i]],
// never the raw index 0..n.
func (ix *HNSWIndex) FindNClosest(ctx context.Context, query []float32, n int) ([]blobstore.BlobHandle, error) {
	if len(ix.vertices) == 0 {
		return nil, nil
	}

	distToVertex := func(id int) (float32, error) {
		return ix.kernel.VecBlob(ctx, query, ix.vertices[id])
	}

	entry := []int{ix.entryPoint}
	topLevel := len(ix.layers) - 1
	for lc := topLevel; lc >= 1; lc-- {
		nearest, err := ix.searchLayer(distToVertex, entry, ix.cfg.EfSearch, lc)
		if err != nil {
			return nil, annerr.Wrap("hnsw.findNClosest", err)
		}
		if len(nearest) > 0 {
			entry = nearest[:1]
		}
	}

	ef := ix.cfg.EfSearch
	if n > ef {
		ef = n
	}
	candidates, err := ix.searchLayer(distToVertex, entry, ef, 0)
	if err != nil {
		return nil, annerr.Wrap("hnsw.findNClosest", err)
	}
	neighbors, err := ix.selectNeighbors(distToVertex, candidates, n)
	if err != nil {
		return nil, annerr.Wrap("hnsw.findNClosest", err)
	}

	out := make([]blobstore.BlobHandle, len(neighbors))
	for i, id := range neighbors {
		out[i] = ix.vertices[id]
	}
	return out, nil
}

func (ix *HNSWIndex) Stats() map[string]any {
	levelSizes := make([]int, len(ix.layers))
	totalEdges := 0
	for i, l := range ix.layers {
		levelSizes[i] = l.size()
		for _, e := range l.edges {
			totalEdges += len(e)
		}
	}
	return map[string]any{
		"type":             "hnsw",
		"vertex_count":     len(ix.vertices),
		"layer_count":      len(ix.layers),
		"level_sizes":      levelSizes,
		"total_edges":      totalEdges,
		"entry_point":      ix.entryPoint,
		"ef_construction":  ix.cfg.EfConstruction,
		"ef_search":        ix.cfg.EfSearch,
		"m_max":            ix.cfg.MMax,
	}
}

var _ VectorIndex = (*HNSWIndex)(nil)
