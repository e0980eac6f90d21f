// Package prompt serializes the instruction, history and new user turn into
// the text submitted to the engine, and measures it in tokens.
package prompt

import (
	"strings"

	"github.com/kbukum/localchat/internal/conversation"
)

// DefaultInstruction is the system instruction the chatbot ships with.
const DefaultInstruction = "A chat between a curious user and an AI assistant. " +
	"The assistant gives helpful, concise, and polite answers to the user's questions. " +
	"If the assistant does not know the answer, it says so."

// Template is a role-marker prompt format:
//
//	<instruction>\n\n
//	### User:\n<text>\n\n
//	### Assistant:\n<text>\n\n
//	...
//	### User:\n<new text>\n\n
//	### Assistant:\n
type Template struct {
	UserMarker      string `yaml:"user_marker" mapstructure:"user_marker"`
	AssistantMarker string `yaml:"assistant_marker" mapstructure:"assistant_marker"`
	// Separator ends the instruction and every completed turn.
	Separator string   `yaml:"separator" mapstructure:"separator"`
	Stop      []string `yaml:"stop" mapstructure:"stop"`
}

// DefaultTemplate returns the "### User:" / "### Assistant:" format.
func DefaultTemplate() Template {
	return Template{
		UserMarker:      "### User:",
		AssistantMarker: "### Assistant:",
		Separator:       "\n\n",
		Stop:            []string{"### User:", "\n###"},
	}
}

// ApplyDefaults fills unset fields from DefaultTemplate.
func (t *Template) ApplyDefaults() {
	d := DefaultTemplate()
	if t.UserMarker == "" {
		t.UserMarker = d.UserMarker
	}
	if t.AssistantMarker == "" {
		t.AssistantMarker = d.AssistantMarker
	}
	if t.Separator == "" {
		t.Separator = d.Separator
	}
	if len(t.Stop) == 0 {
		t.Stop = d.Stop
	}
}

// Snapshot is the exact prompt for one request.
type Snapshot struct {
	Text string
	// HistoryTurns is how many stored turns the prompt includes.
	HistoryTurns int
	// PrefixLen is the byte length of the static prefix at the start of Text.
	PrefixLen int
}

// Prefix returns the static part every prompt starts with. It is what the
// prompt cache primes.
func (t Template) Prefix(instruction string) string {
	return instruction + t.Separator
}

// Build assembles the prompt. It is a pure function of its arguments and
// Prefix(instruction) is always a byte prefix of the result.
func (t Template) Build(instruction string, history []conversation.Turn, userText string) Snapshot {
	prefix := t.Prefix(instruction)

	var b strings.Builder
	b.Grow(t.sizeHint(prefix, history, userText))
	b.WriteString(prefix)
	for _, turn := range history {
		t.writeTurn(&b, t.marker(turn.Role), turn.Content)
	}
	t.writeTurn(&b, t.UserMarker, userText)
	b.WriteString(t.AssistantMarker)
	b.WriteByte('\n')

	return Snapshot{Text: b.String(), HistoryTurns: len(history), PrefixLen: len(prefix)}
}

func (t Template) writeTurn(b *strings.Builder, marker, content string) {
	b.WriteString(marker)
	b.WriteByte('\n')
	b.WriteString(content)
	b.WriteString(t.Separator)
}

func (t Template) marker(role conversation.Role) string {
	if role == conversation.RoleAssistant {
		return t.AssistantMarker
	}
	return t.UserMarker
}

func (t Template) sizeHint(prefix string, history []conversation.Turn, userText string) int {
	perTurn := len(t.AssistantMarker) + 1 + len(t.Separator)
	n := len(prefix) + len(userText) + 2*perTurn
	for _, turn := range history {
		n += perTurn + len(turn.Content)
	}
	return n
}
