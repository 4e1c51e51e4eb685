package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// VectorIndexConfig locates a persisted vector collection.
type VectorIndexConfig struct {
	PersistPath string
	Collection  string
}

// VectorQuery is one nearest-neighbour lookup. Embedding wins over Text when
// both are set.
type VectorQuery struct {
	Text      string
	Embedding []float32
	Limit     int
	Where     map[string]string
}

// VectorRow is a raw match from the vector index.
type VectorRow struct {
	ID         string
	Document   string
	Metadata   map[string]string
	Similarity float32
}

// Distance is the cosine distance of the row from the query.
func (r VectorRow) Distance() float64 {
	return 1 - float64(r.Similarity)
}

// VectorIndex performs similarity search over issue chunks.
type VectorIndex interface {
	Query(ctx context.Context, q VectorQuery) ([]VectorRow, error)
}

// VectorDocument is a chunk stored in the vector index.
type VectorDocument struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// ChromemIndex implements VectorIndex with chromem-go.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// ErrVectorIndexMissing is returned when the persisted index does not exist.
var ErrVectorIndexMissing = errors.New("vector index not found")

// OpenChromemIndex opens a persisted collection. It does not create the
// directory: a missing index yields ErrVectorIndexMissing.
func OpenChromemIndex(config VectorIndexConfig, embed chromem.EmbeddingFunc) (*ChromemIndex, error) {
	if config.PersistPath == "" {
		return nil, ErrVectorIndexMissing
	}
	if _, err := os.Stat(config.PersistPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrVectorIndexMissing
		}
		return nil, fmt.Errorf("stat vector index: %w", err)
	}
	db, err := chromem.NewPersistentDB(config.PersistPath, false)
	if err != nil {
		return nil, fmt.Errorf("open persistent DB: %w", err)
	}
	collection := db.GetCollection(collectionName(config.Collection), embed)
	if collection == nil {
		return nil, fmt.Errorf("%w: collection %q", ErrVectorIndexMissing, collectionName(config.Collection))
	}
	return &ChromemIndex{db: db, collection: collection}, nil
}

// NewMemoryChromemIndex creates an empty in-memory collection.
func NewMemoryChromemIndex(collection string, embed chromem.EmbeddingFunc) (*ChromemIndex, error) {
	db := chromem.NewDB()
	c, err := db.GetOrCreateCollection(collectionName(collection), nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &ChromemIndex{db: db, collection: c}, nil
}

func collectionName(name string) string {
	if name == "" {
		return "rag_chunks_v1"
	}
	return name
}

// Add stores documents, embedding those without a vector.
func (i *ChromemIndex) Add(ctx context.Context, docs []VectorDocument) error {
	for _, doc := range docs {
		err := i.collection.AddDocument(ctx, chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Embedding: doc.Embedding,
			Metadata:  doc.Metadata,
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// Count returns the number of stored documents.
func (i *ChromemIndex) Count() int {
	return i.collection.Count()
}

// Query returns up to q.Limit rows ordered by similarity.
func (i *ChromemIndex) Query(ctx context.Context, q VectorQuery) ([]VectorRow, error) {
	n := min(max(q.Limit, 1), i.collection.Count())
	if n == 0 {
		return nil, nil
	}
	where := q.Where
	if len(where) == 0 {
		where = nil
	}

	var (
		results []chromem.Result
		err     error
	)
	if len(q.Embedding) > 0 {
		results, err = i.collection.QueryEmbedding(ctx, q.Embedding, n, where, nil)
	} else {
		results, err = i.collection.Query(ctx, q.Text, n, where, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	rows := make([]VectorRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, VectorRow{
			ID:         r.ID,
			Document:   r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		})
	}
	return rows, nil
}

// IssueMetadata builds the metadata stored with an issue chunk so the
// project and priority filters can match it.
func IssueMetadata(docID, chunkID, issueKey, source, project, priority string) map[string]string {
	return map[string]string{
		"doc_id":      docID,
		"chunk_id":    chunkID,
		"issue_key":   issueKey,
		"source":      source,
		"project_lc":  strings.ToLower(strings.TrimSpace(project)),
		"priority_lc": strings.ToLower(strings.TrimSpace(priority)),
	}
}
