package vectordb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ziadkadry99/cadence/internal/embeddings"
)

const (
	collectionName = "episodes"
	exportFile     = "recall.gob.gz"
)

// SearchResult is one semantic hit.
type SearchResult struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// ChromemStore is an in-process vector index over episode summaries,
// optionally persisted to a gzip file in the data directory.
type ChromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	embedFunc  chromem.EmbeddingFunc
}

// NewChromemStore creates an empty index using embedder for documents and
// queries.
func NewChromemStore(embedder embeddings.Embedder) (*ChromemStore, error) {
	db := chromem.NewDB()
	ef := embeddings.ToChromemFunc(embedder)

	col, err := db.GetOrCreateCollection(collectionName, nil, ef)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &ChromemStore{db: db, collection: col, embedFunc: ef}, nil
}

// Upsert adds a document or replaces the one with the same id.
func (s *ChromemStore) Upsert(ctx context.Context, id, content string, metadata map[string]string) error {
	s.mu.RLock()
	col := s.collection
	s.mu.RUnlock()
	return col.AddDocument(ctx, chromem.Document{ID: id, Content: content, Metadata: metadata})
}

// Search returns the ids of the documents most similar to query.
func (s *ChromemStore) Search(ctx context.Context, query string, limit int) ([]string, error) {
	results, err := s.SearchWithScores(ctx, query, limit, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids, nil
}

// SearchWithScores returns hits with their similarity, optionally narrowed by
// exact metadata matches.
func (s *ChromemStore) SearchWithScores(ctx context.Context, query string, limit int, where map[string]string) ([]SearchResult, error) {
	s.mu.RLock()
	col := s.collection
	s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	// chromem-go requires nResults <= collection size.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := col.Query(ctx, query, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Similarity: r.Similarity}
	}
	return out, nil
}

// Delete removes documents by id. Unknown ids are ignored.
func (s *ChromemStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.RLock()
	col := s.collection
	s.mu.RUnlock()
	return col.Delete(ctx, nil, nil, ids...)
}

// Count returns the number of indexed documents.
func (s *ChromemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count()
}

// Persist writes the index to dir.
func (s *ChromemStore) Persist(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.ExportToFile(filepath.Join(dir, exportFile), true, "")
}

// Load restores an index written by Persist. A missing file leaves the index
// empty.
func (s *ChromemStore) Load(dir string) error {
	path := filepath.Join(dir, exportFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.ImportFromFile(path, ""); err != nil {
		return fmt.Errorf("import from file: %w", err)
	}
	// Re-acquire collection reference after import.
	col := s.db.GetCollection(collectionName, s.embedFunc)
	if col == nil {
		return fmt.Errorf("collection %q not found after import", collectionName)
	}
	s.collection = col
	return nil
}
