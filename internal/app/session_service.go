package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"assistantbot/internal/model"
)

const titleMaxRunes = 30

// SessionRepo persists session metadata.
type SessionRepo interface {
	Create(session *model.Session) error
	Save(session *model.Session) error
	DeleteByID(id string) error
	DeleteAll() error
}

// MessageSink enqueues appended messages for background persistence.
type MessageSink interface {
	Publish(ctx context.Context, msg model.Message) error
}

// MessageRemover deletes persisted messages when a session goes away.
type MessageRemover interface {
	DeleteBySessionID(sessionID string) error
	DeleteAll() error
}

// HistoryCache is the read-through cache for session histories.
type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID string, messages []model.Message) error
	DeleteHistory(ctx context.Context, sessionID string) error
	MarkDirty(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

type sessionState struct {
	mu      sync.Mutex
	session model.Session
	history []model.Message
	nextSeq int
}

// SessionService is the authoritative store for sessions and their messages.
// Memory is the source of truth during a process lifetime; MySQL receives
// messages through the queue worker and is read back only at startup.
type SessionService struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState

	repo    SessionRepo
	remover MessageRemover
	sink    MessageSink
	cache   HistoryCache
}

func NewSessionService(repo SessionRepo, remover MessageRemover, sink MessageSink, cache HistoryCache) *SessionService {
	return &SessionService{
		sessions: make(map[string]*sessionState),
		repo:     repo,
		remover:  remover,
		sink:     sink,
		cache:    cache,
	}
}

// Create starts a new session. With an empty title a timestamp placeholder
// is used until the first user message derives one; an explicit title is
// kept as-is.
func (s *SessionService) Create(ctx context.Context, title string) (model.Session, error) {
	title = strings.TrimSpace(title)
	session := model.Session{
		ID:           uuid.NewString(),
		Title:        title,
		TitleDerived: title != "",
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	if session.Title == "" {
		session.Title = "Chat " + time.Now().Format("2006-01-02 15:04")
	}

	if s.repo != nil {
		if err := s.repo.Create(&session); err != nil {
			return model.Session{}, err
		}
	}

	s.mu.Lock()
	s.sessions[session.ID] = &sessionState{session: session}
	s.mu.Unlock()
	return session, nil
}

// Get returns session metadata.
func (s *SessionService) Get(sessionID string) (model.Session, error) {
	state, err := s.state(sessionID)
	if err != nil {
		return model.Session{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.session, nil
}

// Append records a message in the session, assigning its sequence number.
// Persistence is enqueued after the in-memory append so a subsequent History
// call always observes the message.
func (s *SessionService) Append(ctx context.Context, sessionID string, msg model.Message) (model.Message, error) {
	if strings.TrimSpace(msg.Content) == "" && !msg.HasImage() {
		return model.Message{}, fmt.Errorf("%w: message content is empty", ErrInvalidInput)
	}
	if msg.Role != model.RoleUser && msg.Role != model.RoleAssistant {
		return model.Message{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, msg.Role)
	}

	state, err := s.state(sessionID)
	if err != nil {
		return model.Message{}, err
	}

	state.mu.Lock()
	msg.SessionID = sessionID
	msg.Seq = state.nextSeq
	msg.CreatedAt = time.Now()
	state.nextSeq++
	state.history = append(state.history, msg)
	state.session.LastActivity = msg.CreatedAt

	if !state.session.TitleDerived && msg.Role == model.RoleUser {
		state.session.Title = deriveTitle(msg.Content)
		state.session.TitleDerived = true
	}
	session := state.session
	state.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.MarkDirty(ctx, sessionID); err != nil {
			log.Printf("mark history dirty failed: %v", err)
		}
		if err := s.cache.DeleteHistory(ctx, sessionID); err != nil {
			log.Printf("invalidate history cache failed: %v", err)
		}
	}

	if s.sink != nil {
		if err := s.sink.Publish(ctx, msg); err != nil {
			return msg, fmt.Errorf("%w: %v", ErrMessageEnqueue, err)
		}
	}

	if s.repo != nil {
		if err := s.repo.Save(&session); err != nil {
			log.Printf("persist session metadata failed: %v", err)
		}
	}

	return msg, nil
}

// History returns the session's messages in append order. limit <= 0 returns
// everything; otherwise the most recent limit messages are returned.
func (s *SessionService) History(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	state, err := s.state(sessionID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && limit <= 0 {
		if cached, ok, err := s.cache.GetHistory(ctx, sessionID); err == nil && ok {
			return cached, nil
		}
	}

	state.mu.Lock()
	history := make([]model.Message, len(state.history))
	copy(history, state.history)
	state.mu.Unlock()

	if s.cache != nil && limit <= 0 {
		dirty, err := s.cache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if err := s.cache.SetHistory(ctx, sessionID, history); err != nil {
				log.Printf("populate history cache failed: %v", err)
			}
		}
	}

	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// List returns all sessions, most recently active first.
func (s *SessionService) List() []model.Session {
	s.mu.RLock()
	sessions := make([]model.Session, 0, len(s.sessions))
	for _, state := range s.sessions {
		state.mu.Lock()
		sessions = append(sessions, state.session)
		state.mu.Unlock()
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].LastActivity.Equal(sessions[j].LastActivity) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	return sessions
}

// Rename sets an explicit title. Renamed sessions never get a derived title
// afterwards.
func (s *SessionService) Rename(ctx context.Context, sessionID, title string) (model.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Session{}, fmt.Errorf("%w: title is empty", ErrInvalidInput)
	}

	state, err := s.state(sessionID)
	if err != nil {
		return model.Session{}, err
	}

	state.mu.Lock()
	state.session.Title = title
	state.session.TitleDerived = true
	session := state.session
	state.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Save(&session); err != nil {
			return session, err
		}
	}
	return session, nil
}

// Delete removes a session and its messages everywhere.
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.DeleteHistory(ctx, sessionID); err != nil {
			log.Printf("delete history cache failed: %v", err)
		}
	}
	if s.remover != nil {
		if err := s.remover.DeleteBySessionID(sessionID); err != nil {
			return err
		}
	}
	if s.repo != nil {
		if err := s.repo.DeleteByID(sessionID); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll drops every session, returning how many were cleared.
func (s *SessionService) ClearAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.sessions = make(map[string]*sessionState)
	s.mu.Unlock()

	if s.cache != nil {
		for _, id := range ids {
			if err := s.cache.DeleteHistory(ctx, id); err != nil {
				log.Printf("delete history cache failed: %v", err)
			}
		}
	}
	if s.remover != nil {
		if err := s.remover.DeleteAll(); err != nil {
			return len(ids), err
		}
	}
	if s.repo != nil {
		if err := s.repo.DeleteAll(); err != nil {
			return len(ids), err
		}
	}
	return len(ids), nil
}

// Hydrate loads persisted sessions and messages into memory at startup.
// Messages must already be ordered by sequence per session.
func (s *SessionService) Hydrate(sessions []model.Session, messages map[string][]model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range sessions {
		history := messages[session.ID]
		nextSeq := 0
		if len(history) > 0 {
			nextSeq = history[len(history)-1].Seq + 1
		}
		s.sessions[session.ID] = &sessionState{
			session: session,
			history: history,
			nextSeq: nextSeq,
		}
	}
}

func (s *SessionService) state(sessionID string) (*sessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return state, nil
}

// deriveTitle takes the first line of the first user message, capped at 30
// runes.
func deriveTitle(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = strings.TrimSpace(content[:idx])
	}
	runes := []rune(content)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes])
	}
	if content == "" {
		return "Chat " + time.Now().Format("2006-01-02 15:04")
	}
	return content
}
