package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label returns the transcript label for the role.
func (r Role) Label() string {
	if r == RoleAssistant {
		return "Assistant"
	}
	return "User"
}

// MetadataSentinel separates the visible response from its trailing
// metadata block in the streamed body.
const MetadataSentinel = "___METADATA___"

// metadataFrame is what the relay writes before the metadata JSON.
const metadataFrame = "\n" + MetadataSentinel + "\n"

// ChatTurn is one message in the conversation history. Turns are never
// modified once appended.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /chat-stream.
type ChatRequest struct {
	Message             string     `json:"message"`
	Category            string     `json:"category,omitempty"`
	ConversationHistory []ChatTurn `json:"conversationHistory,omitempty"`
}

// ResponseMetadata is the JSON block following MetadataSentinel.
type ResponseMetadata struct {
	Suggestions []string  `json:"suggestions"`
	Done        bool      `json:"done"`
	Timestamp   time.Time `json:"timestamp"`
	Category    string    `json:"category"`
}

// StreamedMessage is the assistant reply being rendered. Content grows while
// Streaming is true; Streaming flips to false exactly once.
type StreamedMessage struct {
	ID          uuid.UUID `json:"id"`
	Sender      Role      `json:"sender"`
	Content     string    `json:"content"`
	Streaming   bool      `json:"streaming"`
	Failed      bool      `json:"failed,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
