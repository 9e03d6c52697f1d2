package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Message is one committed state change pushed to operator sessions.
// Seq is the account's notification sequence assigned inside the producing transaction.
type Message struct {
	Type      string          `json:"type"`
	AccountID string          `json:"account_id"`
	SubjectID string          `json:"subject_id,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	Seq       int64           `json:"seq"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	At        time.Time       `json:"at"`
	Origin    string          `json:"origin,omitempty"`

	gen uint64
}

// NewMessage marshals payload into a message.
func NewMessage(typ, accountID, subjectID string, seq int64, payload any, at time.Time) (Message, error) {
	if typ == "" {
		return Message{}, errors.New("notify: empty message type")
	}
	if accountID == "" {
		return Message{}, errors.New("notify: empty account id")
	}
	msg := Message{Type: typ, AccountID: accountID, SubjectID: subjectID, Seq: seq, At: at.UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Publisher accepts committed messages. Implementations must not block.
type Publisher interface {
	Publish(msgs ...Message)
}

// Forwarder relays locally produced messages to other instances.
type Forwarder interface {
	Forward(msg Message)
}

// NopPublisher discards messages.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(...Message) {}

// Recorder collects published messages. Used by tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Publish implements Publisher.
func (r *Recorder) Publish(msgs ...Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msgs...)
	r.mu.Unlock()
}

// Messages returns a copy of everything published so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Types returns the recorded message types in order.
func (r *Recorder) Types() []string {
	msgs := r.Messages()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}
