package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex is an approximate nearest-neighbour index over unit vectors
// using coder/hnsw. String chunk IDs map to monotonically increasing
// uint64 keys, so a key doubles as the insertion sequence.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

// hnswMetadata is the gob sidecar written next to the graph file.
type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorConfig
}

// NewHNSWIndex creates an empty index.
func NewHNSWIndex(cfg VectorConfig) *HNSWIndex {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	return &HNSWIndex{
		graph:  newGraph(cfg),
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

func newGraph(cfg VectorConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Add inserts vectors. Re-adding an ID orphans its old node and appends
// a new one, so an updated chunk sorts as the newest insertion.
func (s *HNSWIndex) Add(_ context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	if s.config.Dimensions == 0 {
		s.config.Dimensions = len(vectors[0])
	}
	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		// coder/hnsw misbehaves when deleting the last node; orphan instead.
		if old, ok := s.idMap[id]; ok {
			delete(s.keyMap, old)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}

	return nil
}

// Search returns up to k hits ordered by cosine similarity descending,
// ties broken by insertion order. An empty index yields no hits.
func (s *HNSWIndex) Search(_ context.Context, query []float32, k int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if k <= 0 || len(s.idMap) == 0 {
		return []VectorHit{}, nil
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	q := make([]float32, len(query))
	copy(q, query)
	if !normalizeVectorInPlace(q) {
		// A zero vector has no direction; nothing is similar to it.
		return []VectorHit{}, nil
	}

	// Orphans still occupy graph slots; widen the search to cover them.
	want := min(k+s.graph.Len()-len(s.idMap), s.graph.Len())
	nodes := s.graph.Search(q, want)

	hits := make([]VectorHit, 0, len(nodes))
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		hits = append(hits, VectorHit{
			ID:    id,
			Score: clampSimilarity(1 - float64(s.graph.Distance(q, node.Value))),
			seq:   node.Key,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].seq < hits[j].seq
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Delete orphans the given IDs.
func (s *HNSWIndex) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}
	for _, id := range ids {
		if key, ok := s.idMap[id]; ok {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// Reset drops every vector. The dimension is re-learned on the next Add.
func (s *HNSWIndex) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config.Dimensions = 0
	s.graph = newGraph(s.config)
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.nextKey = 0
}

// Count returns the number of live vectors.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Orphans returns graph nodes no longer mapped to an ID.
func (s *HNSWIndex) Orphans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.graph.Len() - len(s.idMap)
}

// Dimensions returns the vector dimension, 0 before the first Add.
func (s *HNSWIndex) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Dimensions
}

// Save writes the graph to path and the ID mapping to path+".meta",
// each through a temp file and rename.
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if s.graph.Len() == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove empty graph: %w", err)
		}
	} else if err := writeAtomic(path, func(f *os.File) error { return s.graph.Export(f) }); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}

	meta := hnswMetadata{IDMap: s.idMap, NextKey: s.nextKey, Config: s.config}
	if err := writeAtomic(path+".meta", func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// Load replaces the index contents with what Save wrote. A missing
// metadata file reports an error satisfying errors.Is(err, os.ErrNotExist).
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	meta, err := readMetadata(path + ".meta")
	if err != nil {
		return err
	}

	graph := newGraph(meta.Config)
	if len(meta.IDMap) > 0 || meta.NextKey > 0 {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open index file: %w", err)
		}
		defer func() { _ = file.Close() }()

		// coder/hnsw Import needs an io.ByteReader.
		if err := graph.Import(bufio.NewReader(file)); err != nil {
			return fmt.Errorf("failed to import graph: %w", err)
		}
	}

	s.graph = graph
	s.config = meta.Config
	s.idMap = meta.IDMap
	if s.idMap == nil {
		s.idMap = make(map[string]uint64)
	}
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	s.nextKey = meta.NextKey
	return nil
}

func readMetadata(path string) (hnswMetadata, error) {
	var meta hnswMetadata

	file, err := os.Open(path)
	if err != nil {
		return meta, fmt.Errorf("open hnsw metadata: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	return meta, nil
}

// Close releases the graph.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.graph = nil
	return nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := write(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Join(fmt.Errorf("rename %s", tmp), err)
	}
	return nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
// normalizeVectorInPlace scales v to unit length. It reports false, leaving
// v untouched, when v has zero or non-finite norm.
func normalizeVectorInPlace(v []float32) bool {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 || math.IsNaN(sumSquares) || math.IsInf(sumSquares, 0) {
		return false
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// clampSimilarity absorbs float32 rounding just outside [-1, 1]. A
// non-finite similarity ranks lowest.
func clampSimilarity(s float64) float64 {
	if math.IsNaN(s) {
		return -1
	}
	return math.Max(-1, math.Min(1, s))
}
