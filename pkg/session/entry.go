package session

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// EntryType discriminates transcript entries.
type EntryType string

const (
	// EntryTypeMessage is a conversational turn (user or assistant).
	EntryTypeMessage EntryType = "message"
	// EntryTypeCustom is an out-of-band bookkeeping marker. Custom entries
	// are persisted but never replayed to the model.
	EntryTypeCustom EntryType = "custom"
)

// Role identifies the speaker of a message entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is the conversational payload of a message entry.
type Message struct {
	Role     Role                   `json:"role"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Entry is one line of a transcript file. Exactly one of Message or
// CustomType is populated, according to Type.
type Entry struct {
	Type       EntryType `json:"type"`
	ID         string    `json:"id,omitempty"`
	Message    *Message  `json:"message,omitempty"`
	CustomType string    `json:"customType,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewMessageEntry builds a message entry with a fresh ID and timestamp.
func NewMessageEntry(role Role, content string) Entry {
	return Entry{
		Type:      EntryTypeMessage,
		ID:        newEntryID(),
		Message:   &Message{Role: role, Content: content},
		Timestamp: time.Now().UTC(),
	}
}

// NewCustomEntry builds a bookkeeping marker entry.
func NewCustomEntry(customType string) Entry {
	return Entry{
		Type:       EntryTypeCustom,
		ID:         newEntryID(),
		CustomType: customType,
		Timestamp:  time.Now().UTC(),
	}
}

// IsUserMessage reports whether the entry is a user conversational turn.
// Custom entries and assistant turns are not user messages.
func (e Entry) IsUserMessage() bool {
	return e.Type == EntryTypeMessage && e.Message != nil && e.Message.Role == RoleUser
}

// IsAssistantMessage reports whether the entry is an assistant turn.
func (e Entry) IsAssistantMessage() bool {
	return e.Type == EntryTypeMessage && e.Message != nil && e.Message.Role == RoleAssistant
}

func newEntryID() string {
	id, _ := gonanoid.New()
	return id
}
