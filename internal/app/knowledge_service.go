package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"assistantbot/internal/model"
)

// ScoredChunk is one local retrieval hit.
type ScoredChunk struct {
	DocumentID string
	Source     string
	Seq        int
	Content    string
	Score      float64
}

// IndexStats summarizes the knowledge index.
type IndexStats struct {
	DocumentCount   int `json:"document_count"`
	ChunkCount      int `json:"chunk_count"`
	ReadyCount      int `json:"ready_count"`
	ProcessingCount int `json:"processing_count"`
	FailedCount     int `json:"failed_count"`
}

type indexedChunk struct {
	chunk  model.Chunk
	vector []float32
}

type indexedDocument struct {
	doc    model.Document
	chunks []indexedChunk
}

// DocumentRepo persists document metadata.
type DocumentRepo interface {
	Create(doc *model.Document) error
	Save(doc *model.Document) error
	DeleteByID(id string) error
}

// ChunkRepo persists chunk contents and embeddings.
type ChunkRepo interface {
	CreateBatch(chunks []model.Chunk) error
	DeleteByDocumentID(documentID string) error
}

// KnowledgeService owns the in-memory vector index. Searches read a snapshot
// under RLock and score without holding it, so a concurrent removal can race
// a search; Search retries once when its winners reference a vanished
// document.
type KnowledgeService struct {
	mu   sync.RWMutex
	docs map[string]*indexedDocument

	embedder  Embedder
	docRepo   DocumentRepo
	chunkRepo ChunkRepo
}

func NewKnowledgeService(embedder Embedder, docRepo DocumentRepo, chunkRepo ChunkRepo) *KnowledgeService {
	return &KnowledgeService{
		docs:      make(map[string]*indexedDocument),
		embedder:  embedder,
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
	}
}

// Index embeds and indexes pre-chunked text under a new document ID. The
// document is visible in listings as "processing" while embeddings are
// computed, and only becomes searchable once ready.
func (s *KnowledgeService) Index(ctx context.Context, source string, chunks []string) (string, error) {
	if len(chunks) == 0 {
		return "", fmt.Errorf("%w: document has no content", ErrInvalidInput)
	}

	doc := model.Document{
		ID:        uuid.NewString(),
		Source:    source,
		Status:    model.DocumentProcessing,
		CreatedAt: time.Now(),
	}
	if s.docRepo != nil {
		if err := s.docRepo.Create(&doc); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	s.docs[doc.ID] = &indexedDocument{doc: doc}
	s.mu.Unlock()

	// Chunking never produces blank chunks; a blank one here means the
	// caller bypassed the chunker, and the document fails rather than
	// reaching the embedder with a hole in it.
	for i, content := range chunks {
		if strings.TrimSpace(content) == "" {
			blankErr := fmt.Errorf("%w: chunk %d is blank", ErrInvalidInput, i)
			s.markFailed(doc.ID, blankErr)
			return doc.ID, blankErr
		}
	}

	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		s.markFailed(doc.ID, err)
		return doc.ID, fmt.Errorf("embed document %s failed: %w", doc.ID, err)
	}

	indexed := make([]indexedChunk, 0, len(chunks))
	records := make([]model.Chunk, 0, len(chunks))
	for i, content := range chunks {
		c := model.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Seq:        i,
			Content:    content,
			CreatedAt:  time.Now(),
		}
		c.SetEmbedding(vectors[i])
		indexed = append(indexed, indexedChunk{chunk: c, vector: vectors[i]})
		records = append(records, c)
	}

	if s.chunkRepo != nil {
		if err := s.chunkRepo.CreateBatch(records); err != nil {
			s.markFailed(doc.ID, err)
			return doc.ID, err
		}
	}

	s.mu.Lock()
	entry, ok := s.docs[doc.ID]
	if ok {
		entry.chunks = indexed
		entry.doc.Status = model.DocumentReady
		entry.doc.ChunkCount = len(indexed)
	}
	s.mu.Unlock()

	if ok && s.docRepo != nil {
		ready := entry.doc
		if err := s.docRepo.Save(&ready); err != nil {
			log.Printf("persist document status failed: %v", err)
		}
	}
	return doc.ID, nil
}

func (s *KnowledgeService) markFailed(docID string, cause error) {
	s.mu.Lock()
	entry, ok := s.docs[docID]
	if ok {
		entry.doc.Status = model.DocumentFailed
		entry.doc.FailReason = cause.Error()
	}
	s.mu.Unlock()

	if ok && s.docRepo != nil {
		failed := entry.doc
		if err := s.docRepo.Save(&failed); err != nil {
			log.Printf("persist failed document status failed: %v", err)
		}
	}
}

// Remove deletes a document and its chunks, returning how many chunks were
// dropped.
func (s *KnowledgeService) Remove(ctx context.Context, docID string) (int, error) {
	s.mu.Lock()
	entry, ok := s.docs[docID]
	if !ok {
		s.mu.Unlock()
		return 0, ErrDocumentNotFound
	}
	removed := len(entry.chunks)
	delete(s.docs, docID)
	s.mu.Unlock()

	if s.chunkRepo != nil {
		if err := s.chunkRepo.DeleteByDocumentID(docID); err != nil {
			return removed, err
		}
	}
	if s.docRepo != nil {
		if err := s.docRepo.DeleteByID(docID); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// GetDocument returns the indexed metadata for one document.
func (s *KnowledgeService) GetDocument(docID string) (model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.docs[docID]
	if !ok {
		return model.Document{}, ErrDocumentNotFound
	}
	return entry.doc, nil
}

// ListDocuments returns all documents sorted newest first.
func (s *KnowledgeService) ListDocuments() []model.Document {
	s.mu.RLock()
	docs := make([]model.Document, 0, len(s.docs))
	for _, entry := range s.docs {
		docs = append(docs, entry.doc)
	}
	s.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs
}

// Stats reports index-wide counts.
func (s *KnowledgeService) Stats() IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := IndexStats{DocumentCount: len(s.docs)}
	for _, entry := range s.docs {
		stats.ChunkCount += len(entry.chunks)
		switch entry.doc.Status {
		case model.DocumentReady:
			stats.ReadyCount++
		case model.DocumentProcessing:
			stats.ProcessingCount++
		case model.DocumentFailed:
			stats.FailedCount++
		}
	}
	return stats
}

// Empty reports whether the index has no searchable chunks.
func (s *KnowledgeService) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.docs {
		if entry.doc.Status == model.DocumentReady && len(entry.chunks) > 0 {
			return false
		}
	}
	return true
}

// Search returns the top-k chunks by cosine similarity to the query. Ties
// break by document ID then chunk order, so identical inputs always rank the
// same way.
func (s *KnowledgeService) Search(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	vector, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		hits := s.scoreAll(vector, k)
		if s.allPresent(hits) {
			return hits, nil
		}
	}
	return s.scoreAll(vector, k), nil
}

// embedQuery retries a timed-out embedding call once after a short backoff;
// search is idempotent so the second attempt is safe.
func (s *KnowledgeService) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err == nil || !isTimeout(err) {
		return vector, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(200 * time.Millisecond):
	}
	return s.embedder.Embed(ctx, query)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *KnowledgeService) scoreAll(vector []float32, k int) []ScoredChunk {
	s.mu.RLock()
	var hits []ScoredChunk
	for _, entry := range s.docs {
		if entry.doc.Status != model.DocumentReady {
			continue
		}
		for _, ic := range entry.chunks {
			hits = append(hits, ScoredChunk{
				DocumentID: entry.doc.ID,
				Source:     entry.doc.Source,
				Seq:        ic.chunk.Seq,
				Content:    ic.chunk.Content,
				Score:      cosineSimilarity(vector, ic.vector),
			})
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].DocumentID != hits[j].DocumentID {
			return hits[i].DocumentID < hits[j].DocumentID
		}
		return hits[i].Seq < hits[j].Seq
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (s *KnowledgeService) allPresent(hits []ScoredChunk) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, hit := range hits {
		if _, ok := s.docs[hit.DocumentID]; !ok {
			return false
		}
	}
	return true
}

// Hydrate rebuilds the in-memory index from persisted documents and chunks
// at startup. Documents stuck in "processing" are marked failed since their
// embedding run did not finish.
func (s *KnowledgeService) Hydrate(docs []model.Document, chunks []model.Chunk) error {
	byDoc := make(map[string][]indexedChunk)
	for _, c := range chunks {
		vector := c.EmbeddingVector()
		if len(vector) == 0 {
			return fmt.Errorf("chunk %s has no usable embedding", c.ID)
		}
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], indexedChunk{chunk: c, vector: vector})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		if doc.Status == model.DocumentProcessing {
			doc.Status = model.DocumentFailed
			doc.FailReason = "interrupted before indexing completed"
		}
		s.docs[doc.ID] = &indexedDocument{
			doc:    doc,
			chunks: byDoc[doc.ID],
		}
	}
	return nil
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
