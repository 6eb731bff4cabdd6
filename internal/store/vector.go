package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// VectorStore holds two HNSW-backed tables: chunk embeddings and image
// description embeddings. Row payloads live in memory and are persisted
// together with the ID mappings as gob metadata next to the graph files.
type VectorStore struct {
	mu     sync.RWMutex
	config VectorConfig

	chunks *vectorTable
	images *vectorTable

	chunkRows map[string]ChunkRecord
	imageRows map[string]ImageRecord

	closed bool
}

// vectorTable is one HNSW graph with string ID mapping.
// Deletion is lazy: mappings are dropped and the graph node is orphaned.
// Deleting from the graph itself trips a coder/hnsw bug when the last
// node is removed.
type vectorTable struct {
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// vectorMeta is the gob persistence format for one table.
type vectorMeta struct {
	IDMap     map[string]uint64
	NextKey   uint64
	Config    VectorConfig
	ChunkRows map[string]ChunkRecord
	ImageRows map[string]ImageRecord
}

// NewVectorStore creates an empty vector store.
func NewVectorStore(cfg VectorConfig) (*VectorStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	return &VectorStore{
		config:    cfg,
		chunks:    newVectorTable(cfg),
		images:    newVectorTable(cfg),
		chunkRows: make(map[string]ChunkRecord),
		imageRows: make(map[string]ImageRecord),
	}, nil
}

func newVectorTable(cfg VectorConfig) *vectorTable {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &vectorTable{
		graph:  graph,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// add inserts a normalized copy of vec under id, replacing any existing entry.
func (t *vectorTable) add(id string, vec []float32) {
	if existingKey, exists := t.idMap[id]; exists {
		delete(t.keyMap, existingKey)
		delete(t.idMap, id)
	}

	key := t.nextKey
	t.nextKey++

	v := make([]float32, len(vec))
	copy(v, vec)
	normalizeVectorInPlace(v)

	t.graph.Add(hnsw.MakeNode(key, v))
	t.idMap[id] = key
	t.keyMap[key] = id
}

// remove drops the ID mapping, orphaning the graph node.
func (t *vectorTable) remove(id string) {
	if key, exists := t.idMap[id]; exists {
		delete(t.keyMap, key)
		delete(t.idMap, id)
	}
}

// rawHit is an unfiltered table search result.
type rawHit struct {
	id       string
	distance float32
}

// search returns up to k live hits, skipping orphaned nodes.
func (t *vectorTable) search(query []float32, k int) []rawHit {
	if t.graph.Len() == 0 || k <= 0 {
		return nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	// Over-fetch to cover lazy-deleted nodes still in the graph.
	fetch := k + (t.graph.Len() - len(t.idMap))
	if fetch > t.graph.Len() {
		fetch = t.graph.Len()
	}

	nodes := t.graph.Search(normalized, fetch)

	hits := make([]rawHit, 0, k)
	for _, node := range nodes {
		id, exists := t.keyMap[node.Key]
		if !exists {
			continue
		}
		hits = append(hits, rawHit{
			id:       id,
			distance: t.graph.Distance(normalized, node.Value),
		})
		if len(hits) == k {
			break
		}
	}
	return hits
}

// AddChunks inserts chunk records with their embeddings. Existing chunk IDs
// are replaced.
func (s *VectorStore) AddChunks(ctx context.Context, records []ChunkRecord, vectors [][]float32) error {
	if len(records) != len(vectors) {
		return fmt.Errorf("records and vectors length mismatch: %d vs %d", len(records), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, rec := range records {
		s.chunks.add(rec.ChunkID, vectors[i])
		s.chunkRows[rec.ChunkID] = rec
	}
	return nil
}

// AddImages inserts image description records with their embeddings.
func (s *VectorStore) AddImages(ctx context.Context, records []ImageRecord, vectors [][]float32) error {
	if len(records) != len(vectors) {
		return fmt.Errorf("records and vectors length mismatch: %d vs %d", len(records), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, rec := range records {
		s.images.add(rec.ID, vectors[i])
		s.imageRows[rec.ID] = rec
	}
	return nil
}

// SearchChunks finds the k nearest chunks passing the filter.
func (s *VectorStore) SearchChunks(ctx context.Context, query []float32, k int, filter *Filter) ([]ChunkHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	// Over-fetch before filtering so a selective filter still fills k.
	raw := s.chunks.search(query, k*3)

	hits := make([]ChunkHit, 0, k)
	for _, r := range raw {
		rec, ok := s.chunkRows[r.id]
		if !ok {
			continue
		}
		if !filter.Matches(rec.MediaType, rec.Path, rec.DocumentID) {
			continue
		}
		hits = append(hits, ChunkHit{
			ChunkRecord: rec,
			Distance:    r.distance,
			Score:       distanceToScore(r.distance),
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// SearchImages finds the k nearest image descriptions passing the filter.
func (s *VectorStore) SearchImages(ctx context.Context, query []float32, k int, filter *Filter) ([]ImageHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if !filter.AllowsImages() {
		return nil, nil
	}

	raw := s.images.search(query, k*3)

	hits := make([]ImageHit, 0, k)
	for _, r := range raw {
		rec, ok := s.imageRows[r.id]
		if !ok {
			continue
		}
		if !filter.Matches("image", rec.Path, rec.DocumentID) {
			continue
		}
		hits = append(hits, ImageHit{
			ImageRecord: rec,
			Distance:    r.distance,
			Score:       distanceToScore(r.distance),
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// GetChunk returns the stored record for a chunk ID.
func (s *VectorStore) GetChunk(chunkID string) (ChunkRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.chunkRows[chunkID]
	return rec, ok
}

// ChunkVector returns a copy of the stored embedding for a chunk ID. The
// vector was normalized on insert, so it can be reused as a search query
// without re-embedding the chunk text.
func (s *VectorStore) ChunkVector(chunkID string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false
	}
	key, ok := s.chunks.idMap[chunkID]
	if !ok {
		return nil, false
	}
	vec, ok := s.chunks.graph.Lookup(key)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// ChunksByDocument returns all chunk records belonging to a document.
func (s *VectorStore) ChunksByDocument(documentID string) []ChunkRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []ChunkRecord
	for _, rec := range s.chunkRows {
		if rec.DocumentID == documentID {
			recs = append(recs, rec)
		}
	}
	return recs
}

// FirstChunkByDocument returns the chunk with the lowest index for a
// document. Used by similar-document search.
func (s *VectorStore) FirstChunkByDocument(documentID string) (ChunkRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best ChunkRecord
	found := false
	for _, rec := range s.chunkRows {
		if rec.DocumentID != documentID {
			continue
		}
		if !found || rec.ChunkIndex < best.ChunkIndex {
			best = rec
			found = true
		}
	}
	return best, found
}

// DeleteByDocument removes all chunk and image rows for a document.
func (s *VectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for id, rec := range s.chunkRows {
		if rec.DocumentID == documentID {
			s.chunks.remove(id)
			delete(s.chunkRows, id)
		}
	}
	for id, rec := range s.imageRows {
		if rec.DocumentID == documentID {
			s.images.remove(id)
			delete(s.imageRows, id)
		}
	}
	return nil
}

// AllChunkIDs returns the IDs of every live chunk vector.
func (s *VectorStore) AllChunkIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.chunkRows))
	for id := range s.chunkRows {
		ids = append(ids, id)
	}
	return ids
}

// AllImageIDs returns the IDs of every live image vector.
func (s *VectorStore) AllImageIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.imageRows))
	for id := range s.imageRows {
		ids = append(ids, id)
	}
	return ids
}

// DeleteChunks removes individual chunk or image rows by ID. Unknown IDs are
// ignored.
func (s *VectorStore) DeleteChunks(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, id := range ids {
		if _, ok := s.chunkRows[id]; ok {
			s.chunks.remove(id)
			delete(s.chunkRows, id)
		}
		if _, ok := s.imageRows[id]; ok {
			s.images.remove(id)
			delete(s.imageRows, id)
		}
	}
	return nil
}

// CountChunks returns the number of live chunk vectors.
func (s *VectorStore) CountChunks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunkRows)
}

// CountImages returns the number of live image description vectors.
func (s *VectorStore) CountImages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.imageRows)
}

// Save persists both tables under dir using temp file + rename.
func (s *VectorStore) Save(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create vector dir: %w", err)
	}

	chunkMeta := vectorMeta{
		IDMap:     s.chunks.idMap,
		NextKey:   s.chunks.nextKey,
		Config:    s.config,
		ChunkRows: s.chunkRows,
	}
	if err := saveTable(s.chunks, filepath.Join(dir, "chunks.hnsw"), chunkMeta); err != nil {
		return err
	}

	imageMeta := vectorMeta{
		IDMap:     s.images.idMap,
		NextKey:   s.images.nextKey,
		Config:    s.config,
		ImageRows: s.imageRows,
	}
	return saveTable(s.images, filepath.Join(dir, "images.hnsw"), imageMeta)
}

func saveTable(t *vectorTable, path string, meta vectorMeta) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := t.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	metaPath := path + ".meta"
	tmpMeta := metaPath + ".tmp"
	mf, err := os.Create(tmpMeta)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	if err := gob.NewEncoder(mf).Encode(meta); err != nil {
		_ = mf.Close()
		_ = os.Remove(tmpMeta)
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := mf.Close(); err != nil {
		_ = os.Remove(tmpMeta)
		return fmt.Errorf("failed to close metadata file: %w", err)
	}
	return os.Rename(tmpMeta, metaPath)
}

// Load restores both tables from dir. Missing files mean a fresh store and
// are not an error.
func (s *VectorStore) Load(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	chunkMeta, loaded, err := loadTable(s.chunks, filepath.Join(dir, "chunks.hnsw"))
	if err != nil {
		return err
	}
	if loaded {
		s.config = chunkMeta.Config
		if chunkMeta.ChunkRows != nil {
			s.chunkRows = chunkMeta.ChunkRows
		}
	}

	imageMeta, loaded, err := loadTable(s.images, filepath.Join(dir, "images.hnsw"))
	if err != nil {
		return err
	}
	if loaded && imageMeta.ImageRows != nil {
		s.imageRows = imageMeta.ImageRows
	}
	return nil
}

func loadTable(t *vectorTable, path string) (vectorMeta, bool, error) {
	var meta vectorMeta

	mf, err := os.Open(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return meta, false, nil
		}
		return meta, false, fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer func() { _ = mf.Close() }()

	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return meta, false, fmt.Errorf("failed to decode metadata: %w", err)
	}

	t.idMap = meta.IDMap
	t.nextKey = meta.NextKey
	t.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		t.keyMap[key] = id
	}

	file, err := os.Open(path)
	if err != nil {
		return meta, false, fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// coder/hnsw Import requires an io.ByteReader
	if err := t.graph.Import(bufio.NewReader(file)); err != nil {
		return meta, false, fmt.Errorf("failed to import graph: %w", err)
	}
	return meta, true, nil
}

// Close releases resources. Further calls on the store fail.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.chunks = nil
	s.images = nil
	return nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts cosine distance to a similarity score in [0, 1].
func distanceToScore(distance float32) float32 {
	score := 1.0 - distance
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
