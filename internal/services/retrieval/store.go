// Package retrieval provides the in-memory news vector index
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/embeddings"
	"github.com/bobmcallan/vire-assistant/internal/interfaces"
	"github.com/bobmcallan/vire-assistant/internal/models"
)

const collectionName = "news"

// Store is a title-deduplicated vector index over news documents. Similarity
// is computed by a chromem-go collection; the store keeps the ordered
// documents alongside it so ingestion order is available for tie-breaking.
type Store struct {
	embedder interfaces.Embedder
	logger   *common.Logger

	// window serialises clear/ingest/search sequences (see Lock)
	window sync.Mutex
	// ingestMu serialises Ingest calls; mu is only held around index updates
	ingestMu sync.Mutex

	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	docs       []models.Document
	ids        []int // chromem id of docs[i]
	titles     map[string]struct{}
	dims       int
	seq        int
}

// NewStore creates an empty store backed by embedder
func NewStore(embedder interfaces.Embedder, logger *common.Logger) (*Store, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	s := &Store{embedder: embedder, logger: logger}
	if err := s.reset(); err != nil {
		return nil, err
	}
	return s, nil
}

// reset swaps in a fresh chromem collection. Caller holds mu (or owns s).
func (s *Store) reset() error {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, embeddings.ToChromemFunc(s.embedder))
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	s.db = db
	s.collection = col
	s.docs = nil
	s.ids = nil
	s.titles = make(map[string]struct{})
	s.dims = 0
	return nil
}

// Lock acquires the exclusive window for a clear/ingest/search sequence.
// Single operations remain safe without it.
func (s *Store) Lock() { s.window.Lock() }

// Unlock releases the window acquired by Lock
func (s *Store) Unlock() { s.window.Unlock() }

// Clear drops every document and embedding
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reset(); err != nil {
		// CreateCollection on a fresh DB only fails on an empty name
		s.logger.Error().Err(err).Msg("Failed to reset vector collection")
		s.docs = nil
		s.ids = nil
		s.titles = make(map[string]struct{})
		s.dims = 0
		return
	}
	s.logger.Debug().Msg("Vector index cleared")
}

// CompositeText is the text embedded for a document
func CompositeText(d models.Document) string {
	return fmt.Sprintf("Company: %s | News: %s | Details: %s", d.Ticker, d.Title, d.Summary)
}

// Ingest embeds and appends documents whose titles are new. Empty titles and
// titles already present (in the index or earlier in docs) are skipped. On
// any failure the index is left unchanged. The embedding call runs without
// holding the index lock, so readers are never blocked behind it.
func (s *Store) Ingest(ctx context.Context, docs []models.Document) error {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	s.mu.RLock()
	survivors := s.newDocuments(docs)
	s.mu.RUnlock()

	if len(survivors) == 0 {
		s.logger.Debug().Int("input", len(docs)).Msg("No new documents to ingest")
		return nil
	}

	texts := make([]string, len(survivors))
	for i, d := range survivors {
		texts[i] = CompositeText(d)
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrEmbedding, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dims, err := s.validate(vectors, len(survivors))
	if err != nil {
		return err
	}

	// A concurrent Clear may have run while embedding; titles seen since
	// the snapshot are dropped again.
	kept := survivors[:0]
	keptTexts := texts[:0]
	keptVectors := vectors[:0]
	for i, d := range survivors {
		if _, ok := s.titles[d.Title]; ok {
			continue
		}
		kept = append(kept, d)
		keptTexts = append(keptTexts, texts[i])
		keptVectors = append(keptVectors, vectors[i])
	}
	survivors, texts, vectors = kept, keptTexts, keptVectors
	if len(survivors) == 0 {
		return nil
	}

	chromDocs := make([]chromem.Document, len(survivors))
	ids := make([]string, len(survivors))
	for i := range survivors {
		seq := s.seq + i
		ids[i] = strconv.Itoa(seq)
		// chromem normalises in place; keep our copy untouched
		emb := append([]float32(nil), vectors[i]...)
		survivors[i].Embedding = vectors[i]
		chromDocs[i] = chromem.Document{
			ID:        ids[i],
			Content:   texts[i],
			Embedding: emb,
			Metadata: map[string]string{
				"ticker": survivors[i].Ticker,
				"title":  survivors[i].Title,
				"seq":    ids[i],
			},
		}
	}

	if err := s.collection.AddDocuments(ctx, chromDocs, 1); err != nil {
		if delErr := s.collection.Delete(context.Background(), nil, nil, ids...); delErr != nil {
			// Partial add could not be undone; rebuild from our own copy.
			s.rebuild()
		}
		return fmt.Errorf("failed to index documents: %w", err)
	}

	for i, d := range survivors {
		s.docs = append(s.docs, d)
		s.ids = append(s.ids, s.seq+i)
		s.titles[d.Title] = struct{}{}
	}
	s.seq += len(survivors)
	s.dims = dims

	s.logger.Debug().Int("input", len(docs)).Int("added", len(survivors)).Int("total", len(s.docs)).Msg("Documents ingested")
	return nil
}

// newDocuments returns the documents of docs whose titles are non-empty and
// not yet indexed, first occurrence winning. Caller holds mu.
func (s *Store) newDocuments(docs []models.Document) []models.Document {
	batchTitles := make(map[string]struct{}, len(docs))
	out := make([]models.Document, 0, len(docs))
	for _, d := range docs {
		if d.Title == "" {
			continue
		}
		if _, ok := s.titles[d.Title]; ok {
			continue
		}
		if _, ok := batchTitles[d.Title]; ok {
			continue
		}
		batchTitles[d.Title] = struct{}{}
		out = append(out, models.Document{Ticker: d.Ticker, Title: d.Title, Summary: d.Summary})
	}
	return out
}

// validate checks an embedding batch and returns its dimensionality
func (s *Store) validate(vectors [][]float32, n int) (int, error) {
	if len(vectors) != n {
		return 0, fmt.Errorf("%w: embedder returned %d vectors for %d texts", common.ErrEmbedding, len(vectors), n)
	}
	want := s.dims
	if want == 0 {
		want = s.embedder.Dimensions()
	}
	if want <= 0 {
		want = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != want {
			return 0, fmt.Errorf("%w: vector %d has %d dimensions, expected %d", common.ErrEmbedding, i, len(v), want)
		}
		if norm(v) == 0 {
			return 0, fmt.Errorf("%w: vector %d is zero", common.ErrEmbedding, i)
		}
	}
	return want, nil
}

// rebuild repopulates the chromem collection from the stored documents
func (s *Store) rebuild() {
	docs, ids, dims := s.docs, s.ids, s.dims
	if err := s.reset(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to rebuild vector collection")
		return
	}
	s.docs, s.ids, s.dims = docs, ids, dims
	for _, d := range docs {
		s.titles[d.Title] = struct{}{}
	}
	if len(docs) == 0 {
		return
	}

	chromDocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		id := strconv.Itoa(ids[i])
		chromDocs[i] = chromem.Document{
			ID:        id,
			Content:   CompositeText(d),
			Embedding: append([]float32(nil), d.Embedding...),
			Metadata:  map[string]string{"ticker": d.Ticker, "title": d.Title, "seq": id},
		}
	}
	if err := s.collection.AddDocuments(context.Background(), chromDocs, 1); err != nil {
		s.logger.Error().Err(err).Msg("Failed to rebuild vector collection")
	}
}

// Search returns the documents most similar to query. Results are ordered by
// descending score, ties by ingestion order. TopK and MinScore are applied
// first; the ticker filter narrows that window afterwards, so fewer than TopK
// results may come back even when other matching documents exist.
func (s *Store) Search(ctx context.Context, query string, opts models.SearchOptions) ([]models.SearchResult, error) {
	if opts.TopK < 1 {
		return nil, fmt.Errorf("%w: top_k must be at least 1", common.ErrInvalidInput)
	}

	results := []models.SearchResult{}
	if s.Size() == 0 {
		return results, nil
	}

	// Embed the query before taking the index lock
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrEmbedding, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.collection.Count()
	if len(s.docs) == 0 || count == 0 {
		return results, nil
	}
	if len(vectors) != 1 || len(vectors[0]) != s.dims {
		return nil, fmt.Errorf("%w: malformed query embedding", common.ErrEmbedding)
	}
	if norm(vectors[0]) == 0 {
		return results, nil
	}

	// chromem-go requires nResults <= collection size
	matches, err := s.collection.QueryEmbedding(ctx, append([]float32(nil), vectors[0]...), count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	type scored struct {
		seq   int
		score float64
	}
	ranked := make([]scored, 0, len(matches))
	for _, m := range matches {
		seq, err := strconv.Atoi(m.Metadata["seq"])
		if err != nil {
			continue
		}
		ranked = append(ranked, scored{seq: seq, score: clip(float64(m.Similarity))})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].seq < ranked[j].seq
	})

	if len(ranked) > opts.TopK {
		ranked = ranked[:opts.TopK]
	}

	index := s.bySeq()
	for _, r := range ranked {
		if r.score < opts.MinScore {
			continue
		}
		doc, ok := index[r.seq]
		if !ok {
			continue
		}
		if opts.Ticker != "" && doc.Ticker != opts.Ticker {
			continue
		}
		doc.Embedding = nil
		results = append(results, models.SearchResult{Document: doc, Score: r.score})
	}

	return results, nil
}

// bySeq maps chromem document ids back to stored documents
func (s *Store) bySeq() map[int]models.Document {
	m := make(map[int]models.Document, len(s.docs))
	for i, d := range s.docs {
		m[s.ids[i]] = d
	}
	return m
}

// Size returns the number of indexed documents
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Ready reports whether the index holds any documents
func (s *Store) Ready() bool {
	return s.Size() > 0
}

// Documents returns a copy of the indexed documents in ingestion order
func (s *Store) Documents() []models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Document, len(s.docs))
	for i, d := range s.docs {
		d.Embedding = append([]float32(nil), d.Embedding...)
		out[i] = d
	}
	return out
}

// clip bounds a cosine similarity to [0,1]
func clip(score float64) float64 {
	return math.Max(0, math.Min(1, score))
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

var _ interfaces.VectorStore = (*Store)(nil)
