package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assistantbot/internal/model"
)

func TestIndexAndStats(t *testing.T) {
	svc, _ := newTestKnowledge()
	ctx := context.Background()

	assert.True(t, svc.Empty())

	docID, err := svc.Index(ctx, "go-notes.md", []string{
		"A goroutine is a lightweight thread managed by the Go runtime.",
		"A channel carries values between goroutines.",
	})
	require.NoError(t, err)
	require.NotEmpty(t, docID)

	assert.False(t, svc.Empty())

	stats := svc.Stats()
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, 2, stats.ChunkCount)
	assert.Equal(t, 1, stats.ReadyCount)
	assert.Zero(t, stats.FailedCount)

	doc, err := svc.GetDocument(docID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentReady, doc.Status)
	assert.Equal(t, 2, doc.ChunkCount)
}

func TestIndexEmptyInput(t *testing.T) {
	svc, _ := newTestKnowledge()
	_, err := svc.Index(context.Background(), "empty", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIndexEmbedFailureMarksFailed(t *testing.T) {
	svc, embedder := newTestKnowledge()
	embedder.err = errors.New("embedding backend down")

	docID, err := svc.Index(context.Background(), "broken.txt", []string{"some text"})
	require.Error(t, err)
	require.NotEmpty(t, docID)

	doc, err := svc.GetDocument(docID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentFailed, doc.Status)
	assert.Contains(t, doc.FailReason, "embedding backend down")

	// Failed documents are listed but never searched.
	assert.True(t, svc.Empty())
}

func TestIndexBlankChunkMarksFailed(t *testing.T) {
	svc, _ := newTestKnowledge()

	docID, err := svc.Index(context.Background(), "odd.txt", []string{"real content", "   "})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.NotEmpty(t, docID)

	doc, err := svc.GetDocument(docID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentFailed, doc.Status)
	assert.Contains(t, doc.FailReason, "blank")
	assert.True(t, svc.Empty())
}

func TestRemoveReturnsChunkCount(t *testing.T) {
	svc, _ := newTestKnowledge()
	ctx := context.Background()

	docID, err := svc.Index(ctx, "doc.txt", []string{"one", "two", "three"})
	require.NoError(t, err)

	removed, err := svc.Remove(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = svc.Remove(ctx, docID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Zero(t, svc.Stats().DocumentCount)
}

func TestSearchRanksByRelevance(t *testing.T) {
	svc, _ := newTestKnowledge()
	ctx := context.Background()

	_, err := svc.Index(ctx, "concurrency.md", []string{
		"goroutine goroutine channel channel mutex",
		"cooking recipe for pasta with database of ingredients",
	})
	require.NoError(t, err)

	hits, err := svc.Search(ctx, "how do goroutine and channel work", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Contains(t, hits[0].Content, "goroutine")
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearchRetriesOnceAfterEmbedTimeout(t *testing.T) {
	svc, embedder := newTestKnowledge()
	ctx := context.Background()

	_, err := svc.Index(ctx, "notes.md", []string{"goroutine and channel basics"})
	require.NoError(t, err)

	embedder.timeouts = 1
	hits, err := svc.Search(ctx, "goroutine", 2)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, embedder.calls, "one retry after the timed-out attempt")

	// A second timeout in a row fails the search; there is only one retry.
	embedder.calls = 0
	embedder.timeouts = 2
	_, err = svc.Search(ctx, "goroutine", 2)
	require.Error(t, err)
	assert.Equal(t, 2, embedder.calls)
}

func TestSearchDoesNotRetryNonTimeoutErrors(t *testing.T) {
	svc, embedder := newTestKnowledge()
	ctx := context.Background()

	_, err := svc.Index(ctx, "notes.md", []string{"goroutine and channel basics"})
	require.NoError(t, err)

	embedder.calls = 0
	embedder.err = errors.New("bad request")
	_, err = svc.Search(ctx, "goroutine", 2)
	require.Error(t, err)
	assert.Equal(t, 1, embedder.calls)
}

func TestSearchDeterministicTieBreak(t *testing.T) {
	svc, _ := newTestKnowledge()
	ctx := context.Background()

	// Identical content in two documents scores identically, so ordering
	// must fall back to document ID then chunk order.
	_, err := svc.Index(ctx, "a.txt", []string{"channel channel channel"})
	require.NoError(t, err)
	_, err = svc.Index(ctx, "b.txt", []string{"channel channel channel"})
	require.NoError(t, err)

	first, err := svc.Search(ctx, "channel", 2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := svc.Search(ctx, "channel", 2)
		require.NoError(t, err)
		assert.Equal(t, first, again, "repeated identical searches must rank identically")
	}
}

func TestSearchTopKBound(t *testing.T) {
	svc, _ := newTestKnowledge()
	ctx := context.Background()

	chunks := make([]string, 10)
	for i := range chunks {
		chunks[i] = fmt.Sprintf("channel text number %d", i)
	}
	_, err := svc.Index(ctx, "many.txt", chunks)
	require.NoError(t, err)

	hits, err := svc.Search(ctx, "channel", 4)
	require.NoError(t, err)
	assert.Len(t, hits, 4)
}

func TestConcurrentSearchAndRemove(t *testing.T) {
	svc, _ := newTestKnowledge()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 20; i++ {
		id, err := svc.Index(ctx, fmt.Sprintf("doc-%d.txt", i), []string{
			fmt.Sprintf("goroutine channel notes %d", i),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, id := range ids[:10] {
			_, err := svc.Remove(ctx, id)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 30; i++ {
			hits, err := svc.Search(ctx, "goroutine channel", 4)
			assert.NoError(t, err)
			assert.LessOrEqual(t, len(hits), 4)
		}
	}()
	wg.Wait()

	assert.Equal(t, 10, svc.Stats().DocumentCount)
}

func TestHydrateRebuildsIndex(t *testing.T) {
	svc, _ := newTestKnowledge()
	ctx := context.Background()

	doc := model.Document{ID: "d1", Source: "notes.md", Status: model.DocumentReady, ChunkCount: 1}
	chunk := model.Chunk{ID: "c1", DocumentID: "d1", Seq: 0, Content: "goroutine and channel basics"}
	chunk.SetEmbedding(embedText(chunk.Content))

	stuck := model.Document{ID: "d2", Source: "half.md", Status: model.DocumentProcessing}

	require.NoError(t, svc.Hydrate([]model.Document{doc, stuck}, []model.Chunk{chunk}))

	hits, err := svc.Search(ctx, "goroutine", 4)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1", hits[0].DocumentID)

	recovered, err := svc.GetDocument("d2")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentFailed, recovered.Status)
}
