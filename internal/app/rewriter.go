package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"assistantbot/internal/ai"
	"assistantbot/internal/model"
)

const rewriteSystemPrompt = `You rewrite the user's latest message into a standalone search query.
Resolve pronouns and references using the conversation history.
Reply with the rewritten query only, no explanation.
If the message is already standalone, reply with it unchanged.`

// Rewriter turns a context-dependent user message into a standalone query
// using the recent conversation. It never fails the request: any error falls
// back to the original text.
type Rewriter struct {
	llm LLMClient
}

func NewRewriter(llm LLMClient) *Rewriter {
	return &Rewriter{llm: llm}
}

// Rewrite returns a standalone version of text. History should already be
// trimmed to the recent window.
func (r *Rewriter) Rewrite(ctx context.Context, text string, history []model.Message) string {
	text = strings.TrimSpace(text)
	if text == "" || len(history) == 0 || r.llm == nil {
		return text
	}

	var transcript strings.Builder
	for _, msg := range history {
		transcript.WriteString(fmt.Sprintf("%s: %s\n", msg.Role, msg.Content))
	}

	messages := []ai.ChatMessage{
		{Role: "system", Content: rewriteSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Conversation:\n%s\nLatest message: %s", transcript.String(), text)},
	}

	rewritten, err := r.llm.Complete(ctx, messages)
	if err != nil {
		log.Printf("query rewrite failed, using original text: %v", err)
		return text
	}

	rewritten = strings.TrimSpace(strings.Trim(strings.TrimSpace(rewritten), `"`))
	if rewritten == "" || len([]rune(rewritten)) > 4*len([]rune(text))+200 {
		// Refuse suspicious rewrites, the model sometimes pads with commentary.
		return text
	}
	return rewritten
}
