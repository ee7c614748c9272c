package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"assistantbot/internal/ai"
	"assistantbot/internal/model"
	"assistantbot/internal/search"
)

// LLMClient generates chat completions.
type LLMClient interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
	StreamComplete(ctx context.Context, messages []ai.ChatMessage, onChunk func(string) error) (string, error)
}

// Embedder produces embedding vectors for indexing and search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// WebSearcher queries an external search provider.
type WebSearcher interface {
	Search(ctx context.Context, query string, from, to time.Time, limit int) ([]search.Result, error)
}

// ImageCaptioner describes an attached image for prompting.
type ImageCaptioner interface {
	Describe(imageData []byte) (string, error)
}

// EngineConfig tunes the chat pipeline.
type EngineConfig struct {
	TopK               int
	MaxHistoryMessages int
	RewriteTimeout     time.Duration
	SearchTimeout      time.Duration
	GenerateTimeout    time.Duration
}

// ChatInput is one user turn. An empty SessionID starts a new session; the
// assigned ID is reported in the output and the metadata event.
type ChatInput struct {
	SessionID   string
	Text        string
	Image       []byte
	ImageFormat string
}

// ChatOutput is a completed non-streaming answer.
type ChatOutput struct {
	SessionID     string
	Answer        string
	RewrittenText string
	Sources       []model.SourceRef
	Plan          RetrievalPlan
}

// ChatService runs the full answer pipeline: rewrite, retrieve, plan,
// assemble, generate, record.
type ChatService struct {
	sessions  *SessionService
	knowledge *KnowledgeService
	rewriter  *Rewriter
	planner   *Planner
	assembler *Assembler
	llm       LLMClient
	searcher  WebSearcher
	captioner ImageCaptioner
	cfg       EngineConfig
}

func NewChatService(
	sessions *SessionService,
	knowledge *KnowledgeService,
	rewriter *Rewriter,
	planner *Planner,
	assembler *Assembler,
	llm LLMClient,
	searcher WebSearcher,
	captioner ImageCaptioner,
	cfg EngineConfig,
) *ChatService {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.MaxHistoryMessages <= 0 {
		cfg.MaxHistoryMessages = 6
	}
	if cfg.RewriteTimeout <= 0 {
		cfg.RewriteTimeout = 10 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 10 * time.Second
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 120 * time.Second
	}
	return &ChatService{
		sessions:  sessions,
		knowledge: knowledge,
		rewriter:  rewriter,
		planner:   planner,
		assembler: assembler,
		llm:       llm,
		searcher:  searcher,
		captioner: captioner,
		cfg:       cfg,
	}
}

type preparedContext struct {
	rewritten string
	plan      RetrievalPlan
	prompt    string
	sources   []model.SourceRef
	messages  []ai.ChatMessage
}

// prepareContext runs every pipeline stage before generation. Rewrite and
// external search failures degrade the answer but never abort it.
func (s *ChatService) prepareContext(ctx context.Context, input ChatInput, history []model.Message) (*preparedContext, error) {
	queryText := strings.TrimSpace(input.Text)
	if input.Image != nil && s.captioner != nil {
		caption, err := s.captioner.Describe(input.Image)
		if err != nil {
			log.Printf("image caption failed: %v", err)
		} else if queryText == "" {
			queryText = "Describe " + caption
		} else {
			queryText = queryText + "\n(The user attached " + caption + ")"
		}
	}

	rewritten := queryText
	if s.rewriter != nil {
		rewriteCtx, cancel := context.WithTimeout(ctx, s.cfg.RewriteTimeout)
		rewritten = s.rewriter.Rewrite(rewriteCtx, queryText, history)
		cancel()
	}

	indexEmpty := s.knowledge.Empty()
	var localHits []ScoredChunk
	if !indexEmpty {
		hits, err := s.knowledge.Search(ctx, rewritten, s.cfg.TopK)
		if err != nil {
			log.Printf("local retrieval failed: %v", err)
		} else {
			localHits = hits
		}
	}

	plan := s.planner.Plan(rewritten, localHits, indexEmpty, time.Now())
	if !plan.UseLocal {
		localHits = nil
	}

	var externalHits []search.Result
	if plan.UseExternal && s.searcher != nil {
		searchCtx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
		var from, to time.Time
		if plan.TimeFilter != nil {
			from, to = plan.TimeFilter.From, plan.TimeFilter.To
		}
		results, err := s.searcher.Search(searchCtx, rewritten, from, to, 0)
		cancel()
		if err != nil {
			log.Printf("external search failed: %v", err)
		} else {
			externalHits = results
		}
	}

	prompt, sources := s.assembler.Assemble(localHits, externalHits)

	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: prompt})
	for _, msg := range history {
		messages = append(messages, ai.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, ai.ChatMessage{Role: "user", Content: queryText})

	return &preparedContext{
		rewritten: rewritten,
		plan:      plan,
		prompt:    prompt,
		sources:   sources,
		messages:  messages,
	}, nil
}

// begin validates input, resolves or creates the session, records the user
// turn and snapshots the recent history that precedes it.
func (s *ChatService) begin(ctx context.Context, input *ChatInput) ([]model.Message, error) {
	if strings.TrimSpace(input.Text) == "" && input.Image == nil {
		return nil, fmt.Errorf("%w: message text is empty", ErrInvalidInput)
	}

	if input.SessionID == "" {
		session, err := s.sessions.Create(ctx, "")
		if err != nil {
			return nil, err
		}
		input.SessionID = session.ID
	}

	history, err := s.sessions.History(ctx, input.SessionID, s.cfg.MaxHistoryMessages)
	if err != nil {
		return nil, err
	}

	userMsg := model.Message{
		Role:        model.RoleUser,
		Content:     input.Text,
		ImageData:   input.Image,
		ImageFormat: input.ImageFormat,
	}
	if _, err := s.sessions.Append(ctx, input.SessionID, userMsg); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *ChatService) recordAnswer(ctx context.Context, sessionID, answer string, sources []model.SourceRef) {
	msg := model.Message{
		Role:    model.RoleAssistant,
		Content: answer,
	}
	msg.SetSourceRefs(sources)
	if _, err := s.sessions.Append(ctx, sessionID, msg); err != nil {
		log.Printf("record assistant answer failed: %v", err)
	}
}

// Chat answers one turn without streaming.
func (s *ChatService) Chat(ctx context.Context, input ChatInput) (*ChatOutput, error) {
	history, err := s.begin(ctx, &input)
	if err != nil {
		return nil, err
	}

	prepared, err := s.prepareContext(ctx, input, history)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	answer, err := s.llm.Complete(genCtx, prepared.messages)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// The caller went away; the partial turn is discarded.
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	s.recordAnswer(ctx, input.SessionID, answer, prepared.sources)
	return &ChatOutput{
		SessionID:     input.SessionID,
		Answer:        answer,
		RewrittenText: prepared.rewritten,
		Sources:       prepared.sources,
		Plan:          prepared.plan,
	}, nil
}

// StreamChat answers one turn as an event stream. The returned stream always
// carries one metadata event, zero or more tokens, and exactly one terminal
// done or error event. Cancelled generations emit no terminal done event and
// the partial answer is not recorded.
func (s *ChatService) StreamChat(ctx context.Context, input ChatInput) (*Stream, error) {
	history, err := s.begin(ctx, &input)
	if err != nil {
		return nil, err
	}

	stream := newStream()
	go s.runStream(ctx, input, history, stream)
	return stream, nil
}

func (s *ChatService) runStream(ctx context.Context, input ChatInput, history []model.Message, stream *Stream) {
	defer stream.close()

	prepared, err := s.prepareContext(ctx, input, history)
	if err != nil {
		stream.send(ctx, Event{Type: EventError, Err: err.Error()})
		return
	}

	stream.send(ctx, Event{Type: EventMetadata, Metadata: &Metadata{
		SessionID:     input.SessionID,
		RewrittenText: prepared.rewritten,
		Sources:       sourceViews(prepared.sources),
		Plan:          planView(prepared.plan),
	}})

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	answer, err := s.llm.StreamComplete(genCtx, prepared.messages, func(token string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		stream.send(ctx, Event{Type: EventToken, Token: token})
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client disconnect: drop the partial answer without a terminal
			// done event.
			return
		}
		stream.send(ctx, Event{Type: EventError, Err: ErrGenerationFailed.Error()})
		return
	}

	// Record with a fresh context: the request context may already be done.
	recordCtx, recordCancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.recordAnswer(recordCtx, input.SessionID, answer, prepared.sources)
	recordCancel()

	stream.send(ctx, Event{Type: EventDone, Answer: answer})
}

func sourceViews(refs []model.SourceRef) []SourceRefView {
	views := make([]SourceRefView, 0, len(refs))
	for _, r := range refs {
		views = append(views, SourceRefView{Source: r.Source, External: r.External, Snippet: r.Snippet})
	}
	return views
}

func planView(plan RetrievalPlan) RetrievalPlanView {
	view := RetrievalPlanView{UseLocal: plan.UseLocal, UseExternal: plan.UseExternal}
	if plan.TimeFilter != nil {
		view.TimeFilter = fmt.Sprintf("%s..%s",
			plan.TimeFilter.From.Format("2006-01-02"),
			plan.TimeFilter.To.Format("2006-01-02"))
	}
	return view
}
