package domain

// Sender identifies who authored a timeline entry.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is a single entry in a session's conversation timeline.
//
// Result is only ever set on assistant messages that came from a successful
// backend reply, so the generated query, preview and chart always travel
// together.
type Message struct {
	ID        string       `json:"id"`
	Sender    Sender       `json:"sender"`
	Content   string       `json:"content"`
	Timestamp string       `json:"timestamp"`
	Result    *QueryResult `json:"result,omitempty"`
}

// HasResult reports whether the message carries a backend query result.
func (m Message) HasResult() bool {
	return m.Result != nil
}

// QueryResult is the payload of a successful ask round trip.
type QueryResult struct {
	Query   string  `json:"query"`
	Preview Preview `json:"preview"`
	Chart   Chart   `json:"chart,omitempty"`
}
