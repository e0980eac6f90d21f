package conversation

import "time"

// Role is the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable message in the history.
type Turn struct {
	// Seq increases across the process lifetime and is never reused, even
	// after older turns are dropped.
	Seq       uint64    `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a turn that has not been stored yet.
type Message struct {
	Role    Role
	Content string
}

// UserMessage returns a user Message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage returns an assistant Message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
