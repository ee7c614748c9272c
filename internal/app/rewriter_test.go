package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"assistantbot/internal/model"
)

func TestRewriteNoHistoryPassesThrough(t *testing.T) {
	llm := &fakeLLM{answer: "should not be called"}
	rw := NewRewriter(llm)

	out := rw.Rewrite(context.Background(), "standalone question", nil)
	assert.Equal(t, "standalone question", out)
	assert.Nil(t, llm.lastPrompt)
}

func TestRewriteUsesModelOutput(t *testing.T) {
	llm := &fakeLLM{answer: `"What are Go channels used for?"`}
	rw := NewRewriter(llm)
	history := []model.Message{
		{Role: model.RoleUser, Content: "Tell me about Go channels"},
		{Role: model.RoleAssistant, Content: "Channels carry values between goroutines."},
	}

	out := rw.Rewrite(context.Background(), "what are they used for?", history)
	assert.Equal(t, "What are Go channels used for?", out)
}

func TestRewriteFallsBackOnError(t *testing.T) {
	llm := &fakeLLM{err: errors.New("model unavailable")}
	rw := NewRewriter(llm)
	history := []model.Message{{Role: model.RoleUser, Content: "earlier"}}

	out := rw.Rewrite(context.Background(), "and then?", history)
	assert.Equal(t, "and then?", out)
}

func TestRewriteRejectsRunawayOutput(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'a'
	}
	llm := &fakeLLM{answer: string(long)}
	rw := NewRewriter(llm)
	history := []model.Message{{Role: model.RoleUser, Content: "earlier"}}

	out := rw.Rewrite(context.Background(), "short?", history)
	assert.Equal(t, "short?", out)
}

func TestRewriteEmptyOutputFallsBack(t *testing.T) {
	llm := &fakeLLM{answer: "   "}
	rw := NewRewriter(llm)
	history := []model.Message{{Role: model.RoleUser, Content: "earlier"}}

	out := rw.Rewrite(context.Background(), "hm?", history)
	assert.Equal(t, "hm?", out)
}
