// Package message defines the Message type used in routed conversations.
package message

import (
	"strings"

	"github.com/germanamz/modelrouter/pkg/chats/content"
	"github.com/germanamz/modelrouter/pkg/chats/role"
)

// Message represents a single message in a conversation.
// It is a value type; Parts must be treated as read-only once the message is
// shared, use WithParts to derive an edited copy.
type Message struct {
	Role  role.Role
	Parts []content.Part
}

// New creates a message with the given role and content parts.
func New(r role.Role, parts ...content.Part) Message {
	return Message{
		Role:  r,
		Parts: parts,
	}
}

// NewText creates a message with a single Text content part.
func NewText(r role.Role, text string) Message {
	return New(r, content.Text{Text: text})
}

// TextContent concatenates the text of all Text parts in the message.
func (m Message) TextContent() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(content.Text); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Images returns all Image parts in the message.
func (m Message) Images() []content.Image {
	var imgs []content.Image
	for _, p := range m.Parts {
		if img, ok := p.(content.Image); ok {
			imgs = append(imgs, img)
		}
	}
	return imgs
}

// HasImages reports whether the message carries at least one image part.
func (m Message) HasImages() bool {
	return len(m.Images()) > 0
}

// WithParts returns a copy of the message whose parts are replaced by parts.
func (m Message) WithParts(parts ...content.Part) Message {
	cp := make([]content.Part, len(parts))
	copy(cp, parts)
	return Message{Role: m.Role, Parts: cp}
}
