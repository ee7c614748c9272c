package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"assistantbot/internal/ai"
	"assistantbot/internal/search"
)

// fakeEmbedder produces deterministic bag-of-words vectors over a small
// vocabulary so similarity behaves predictably in tests.
type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	err      error
	timeouts int // first N Embed calls fail with a deadline error
}

var fakeVocabulary = []string{"go", "channel", "goroutine", "mutex", "weather", "cooking", "recipe", "database"}

func embedText(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, len(fakeVocabulary)+1)
	vec[len(fakeVocabulary)] = 0.1
	for i, word := range fakeVocabulary {
		vec[i] = float32(strings.Count(lower, word))
	}
	return vec
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if call <= f.timeouts {
		return nil, context.DeadlineExceeded
	}
	return embedText(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

// fakeLLM scripts both completion modes.
type fakeLLM struct {
	answer     string
	tokens     []string
	err        error
	streamErr  error
	lastPrompt []ai.ChatMessage
	mu         sync.Mutex
}

func (f *fakeLLM) Complete(_ context.Context, messages []ai.ChatMessage) (string, error) {
	f.mu.Lock()
	f.lastPrompt = messages
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeLLM) StreamComplete(ctx context.Context, messages []ai.ChatMessage, onChunk func(string) error) (string, error) {
	f.mu.Lock()
	f.lastPrompt = messages
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	var full strings.Builder
	for i, tok := range f.tokens {
		if f.streamErr != nil && i == len(f.tokens)/2 {
			return "", f.streamErr
		}
		if err := onChunk(tok); err != nil {
			return "", err
		}
		full.WriteString(tok)
	}
	return full.String(), nil
}

// fakeSearcher records the query and returns scripted results.
type fakeSearcher struct {
	results  []search.Result
	err      error
	lastFrom time.Time
	lastTo   time.Time
	queries  []string
	mu       sync.Mutex
}

func (f *fakeSearcher) Search(_ context.Context, query string, from, to time.Time, _ int) ([]search.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.lastFrom, f.lastTo = from, to
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func newTestKnowledge() (*KnowledgeService, *fakeEmbedder) {
	embedder := &fakeEmbedder{}
	return NewKnowledgeService(embedder, nil, nil), embedder
}

func newTestSessions() *SessionService {
	return NewSessionService(nil, nil, nil, nil)
}

func newTestChat(sessions *SessionService, knowledge *KnowledgeService, llm *fakeLLM, searcher WebSearcher, external bool) *ChatService {
	return NewChatService(
		sessions,
		knowledge,
		nil,
		NewPlanner(PlannerConfig{MinRelevance: 0.4, ExternalEnabled: external}),
		NewAssembler(6000),
		llm,
		searcher,
		nil,
		EngineConfig{},
	)
}
