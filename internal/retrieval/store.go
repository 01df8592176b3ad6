package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	errx "github.com/wikirag-core/server/internal/core/error"
	logx "github.com/wikirag-core/server/pkg/logger"
)

// Embedder turns texts into embedding vectors, one per input, in input order.
// Satisfied by the router's Gemini encoder.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Record is one retrievable unit: an ID plus an opaque fields blob. The
// plain text lives inside the "_node_content" field as a JSON document
// with a "text" key; everything else is carried along untouched.
type Record struct {
	ID     string            `json:"_id"`
	Fields map[string]string `json:"fields"`
}

// Hit is one search result.
type Hit struct {
	ID     string            `json:"id"`
	Score  float64           `json:"score"`
	Fields map[string]string `json:"fields"`
}

// Reranker reorders search candidates. The default pipeline runs without one.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []Hit) ([]Hit, error)
}

type storedRecord struct {
	ID        string            `json:"id"`
	Embedding []float32         `json:"embedding"`
	Fields    map[string]string `json:"fields"`
}

// Store is a vector index over Redis: one hash per {index, namespace}
// holding JSON records with their embeddings. Search embeds the query
// and ranks candidates by cosine similarity client-side.
type Store struct {
	rdb      redis.Cmdable
	index    string
	embedder Embedder
	reranker Reranker
}

func NewStore(rdb redis.Cmdable, index string, embedder Embedder, reranker Reranker) *Store {
	return &Store{rdb: rdb, index: index, embedder: embedder, reranker: reranker}
}

func (s *Store) namespaceKey(namespace string) string {
	return fmt.Sprintf("vindex:%s:%s", s.index, namespace)
}

func (s *Store) metaKey() string {
	return fmt.Sprintf("vindex:%s:meta", s.index)
}

// EnsureIndex records index metadata if the index does not exist yet.
func (s *Store) EnsureIndex(ctx context.Context, embedModel string) error {
	meta, err := json.Marshal(map[string]string{
		"index":       s.index,
		"embed_model": embedModel,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := s.rdb.SetNX(ctx, s.metaKey(), meta, 0).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}

// Upsert embeds each record's text and writes it into the namespace.
// Records overwrite existing entries with the same ID.
func (s *Store) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, 0, len(records))
	for _, rec := range records {
		text, err := extractNodeText(rec.Fields)
		if err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
		texts = append(texts, text)
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return errx.RetrievalUnavailable(err)
	}
	if len(vectors) != len(records) {
		return fmt.Errorf("embedder returned %d vectors for %d records", len(vectors), len(records))
	}

	key := s.namespaceKey(namespace)
	values := make(map[string]any, len(records))
	for i, rec := range records {
		b, err := json.Marshal(storedRecord{ID: rec.ID, Embedding: vectors[i], Fields: rec.Fields})
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", rec.ID, err)
		}
		values[rec.ID] = b
	}

	if err := s.rdb.HSet(ctx, key, values).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to upsert records")
		return errx.WrapRedis(err)
	}
	logx.Debug().Str("key", key).Int("count", len(records)).Msg("Upserted records")
	return nil
}

// Count returns the number of records in a namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	n, err := s.rdb.HLen(ctx, s.namespaceKey(namespace)).Result()
	if err != nil {
		return 0, errx.WrapRedis(err)
	}
	return int(n), nil
}

// Search returns the topK most similar records in the namespace, most
// relevant first, passing candidates through the reranker when one is
// configured.
func (s *Store) Search(ctx context.Context, namespace, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		return nil, errx.RetrievalUnavailable(err)
	}
	queryVec := vecs[0]

	rows, err := s.rdb.HVals(ctx, s.namespaceKey(namespace)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errx.WrapRedis(err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		var rec storedRecord
		if err := json.Unmarshal([]byte(row), &rec); err != nil {
			logx.Warn().Err(err).Str("namespace", namespace).Msg("skipping undecodable record")
			continue
		}
		hits = append(hits, Hit{
			ID:     rec.ID,
			Score:  cosineSimilarity(queryVec, rec.Embedding),
			Fields: rec.Fields,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}

	if s.reranker != nil && len(hits) > 1 {
		reranked, err := s.reranker.Rerank(ctx, query, hits)
		if err != nil {
			logx.Warn().Err(err).Msg("reranker failed - keeping similarity order")
			return hits, nil
		}
		hits = reranked
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
