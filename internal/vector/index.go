package vector

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowline/internal/provider"
	"github.com/rendis/flowline/internal/store"
	"github.com/rendis/flowline/pkg/schema"
)

const defaultEmbeddingModel = "text-embedding-3-small"

// Match is one scored search hit.
type Match struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Index embeds documents into collections and answers similarity queries.
// It brute-forces cosine similarity over the collection's stored vectors,
// which is fine at the collection sizes this engine targets.
type Index struct {
	store    store.Store
	embedder provider.Client
}

// NewIndex creates an Index over the given store and embedding client.
func NewIndex(s store.Store, embedder provider.Client) *Index {
	return &Index{store: s, embedder: embedder}
}

// Add embeds each text and stores it in the collection, incrementing the
// collection's vector count. The collection must exist, belong to the user
// and be ACTIVE.
func (x *Index) Add(ctx context.Context, collectionID, userID string, texts []string, metadata []map[string]any) (int, error) {
	coll, err := x.checkCollection(ctx, collectionID, userID)
	if err != nil {
		return 0, err
	}
	if len(texts) == 0 {
		return 0, nil
	}

	model := coll.EmbeddingModel
	if model == "" {
		model = defaultEmbeddingModel
	}

	embeddings, err := x.embedder.Embed(ctx, model, texts)
	if err != nil {
		return 0, err
	}

	added := 0
	for i, text := range texts {
		rec := &store.VectorRecord{
			ID:           uuid.NewString(),
			CollectionID: collectionID,
			Text:         text,
			Embedding:    embeddings[i],
			CreatedAt:    time.Now().UTC(),
		}
		if i < len(metadata) && metadata[i] != nil {
			rec.Metadata = marshalMetadata(metadata[i])
		}
		if err := x.store.AddVector(ctx, rec); err != nil {
			return added, schema.NewError(schema.ErrCodeStore, "store vector").WithCause(err)
		}
		added++
	}

	if err := x.store.IncrementCollectionVectors(ctx, collectionID, added); err != nil {
		return added, schema.NewError(schema.ErrCodeStore, "update vector count").WithCause(err)
	}
	return added, nil
}

// Search embeds the query and returns up to topK matches with cosine score
// at or above minScore, best first.
func (x *Index) Search(ctx context.Context, collectionID, userID, query string, topK int, minScore float64) ([]Match, error) {
	coll, err := x.checkCollection(ctx, collectionID, userID)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "search query is empty")
	}
	if topK <= 0 {
		topK = 5
	}

	model := coll.EmbeddingModel
	if model == "" {
		model = defaultEmbeddingModel
	}

	embeddings, err := x.embedder.Embed(ctx, model, []string{query})
	if err != nil {
		return nil, err
	}
	queryVec := embeddings[0]

	records, err := x.store.ListVectors(ctx, collectionID)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list vectors").WithCause(err)
	}

	matches := make([]Match, 0, len(records))
	for _, rec := range records {
		score := cosineSimilarity(queryVec, rec.Embedding)
		if score < minScore {
			continue
		}
		matches = append(matches, Match{
			ID:       rec.ID,
			Text:     rec.Text,
			Score:    score,
			Metadata: unmarshalMetadata(rec.Metadata),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (x *Index) checkCollection(ctx context.Context, collectionID, userID string) (*store.Collection, error) {
	if collectionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "collection id is empty")
	}
	coll, err := x.store.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "load collection").WithCause(err)
	}
	if coll == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "collection %q not found", collectionID)
	}
	if userID != "" && coll.UserID != userID {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "collection %q not found", collectionID)
	}
	if coll.Status != schema.StatusActive {
		return nil, schema.NewErrorf(schema.ErrCodeNotActive, "collection %q is not active", collectionID)
	}
	return coll, nil
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector is empty, zero-length or dimension-mismatched.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
