package app

import "context"

// EventType names the stages of a streamed answer.
type EventType string

const (
	EventMetadata EventType = "metadata"
	EventToken    EventType = "token"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Metadata is sent once before any tokens.
type Metadata struct {
	SessionID     string            `json:"session_id"`
	RewrittenText string            `json:"rewritten_text"`
	Sources       []SourceRefView   `json:"sources"`
	Plan          RetrievalPlanView `json:"plan"`
}

// SourceRefView is the wire shape of one cited source.
type SourceRefView struct {
	Source   string `json:"source"`
	External bool   `json:"external"`
	Snippet  string `json:"snippet,omitempty"`
}

// RetrievalPlanView is the wire shape of the retrieval decision.
type RetrievalPlanView struct {
	UseLocal    bool   `json:"use_local"`
	UseExternal bool   `json:"use_external"`
	TimeFilter  string `json:"time_filter,omitempty"`
}

// Event is one frame of a streamed answer. Exactly one terminal event (done
// or error) closes every stream.
type Event struct {
	Type     EventType `json:"type"`
	Token    string    `json:"token,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
	Answer   string    `json:"answer,omitempty"`
	Err      string    `json:"error,omitempty"`
}

// Stream delivers generation events to one consumer. The channel is closed
// after the terminal event.
type Stream struct {
	events chan Event
}

func newStream() *Stream {
	return &Stream{events: make(chan Event, 16)}
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// send drops the event when the consumer's context is already done, so a
// vanished client never blocks the producer.
func (s *Stream) send(ctx context.Context, e Event) {
	select {
	case s.events <- e:
	case <-ctx.Done():
	}
}

func (s *Stream) close() {
	close(s.events)
}
