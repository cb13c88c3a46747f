// Package chat provides an ordered conversation container for a routed turn.
package chat

import (
	"github.com/germanamz/modelrouter/pkg/chats/content"
	"github.com/germanamz/modelrouter/pkg/chats/message"
	"github.com/germanamz/modelrouter/pkg/chats/role"
)

// Chat is an ordered list of messages. Edits return a new Chat and never
// mutate the receiver, so a Chat can be shared between the caller and the
// router. The zero value is an empty conversation.
type Chat struct {
	messages []message.Message
}

// New creates a Chat pre-populated with the given messages.
func New(msgs ...message.Message) *Chat {
	cp := make([]message.Message, len(msgs))
	copy(cp, msgs)
	return &Chat{messages: cp}
}

// Len returns the number of messages in the conversation.
func (c *Chat) Len() int {
	return len(c.messages)
}

// At returns the message at the given index.
// It panics if the index is out of range.
func (c *Chat) At(index int) message.Message {
	return c.messages[index]
}

// Last returns the most recent message and true, or a zero Message and false
// if the conversation is empty.
func (c *Chat) Last() (message.Message, bool) {
	if len(c.messages) == 0 {
		return message.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// LastUser returns the most recent user message. When the conversation has
// no user message the last message is returned instead; the bool is false
// only for an empty conversation.
func (c *Chat) LastUser() (message.Message, bool) {
	if i := c.lastUserIndex(); i >= 0 {
		return c.messages[i], true
	}
	return c.Last()
}

// Messages returns a copy of all messages in the conversation.
func (c *Chat) Messages() []message.Message {
	cp := make([]message.Message, len(c.messages))
	copy(cp, c.messages)
	return cp
}

// SystemPrompt returns the text content of the first system message, or an
// empty string if there is none.
func (c *Chat) SystemPrompt() string {
	for _, m := range c.messages {
		if m.Role == role.System {
			return m.TextContent()
		}
	}
	return ""
}

// InsertAfterFirst returns a new Chat with msg placed right after the first
// message, which is the primary system message of a prepared turn. On an
// empty conversation msg becomes the only message.
func (c *Chat) InsertAfterFirst(msg message.Message) *Chat {
	if len(c.messages) == 0 {
		return New(msg)
	}

	out := make([]message.Message, 0, len(c.messages)+1)
	out = append(out, c.messages[0], msg)
	out = append(out, c.messages[1:]...)

	return &Chat{messages: out}
}

// WithImagesOnLastUser returns a new Chat whose latest user message carries
// its text followed by the given images as inline parts. A blank text part is
// kept so providers always receive a text segment. Without a user message the
// conversation is returned unchanged.
func (c *Chat) WithImagesOnLastUser(images []content.Image) *Chat {
	i := c.lastUserIndex()
	if i < 0 || len(images) == 0 {
		return New(c.messages...)
	}

	text := c.messages[i].TextContent()
	if text == "" {
		text = " "
	}

	parts := make([]content.Part, 0, len(images)+1)
	parts = append(parts, content.Text{Text: text})
	for _, img := range images {
		parts = append(parts, img)
	}

	out := c.Messages()
	out[i] = out[i].WithParts(parts...)

	return &Chat{messages: out}
}

func (c *Chat) lastUserIndex() int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == role.User {
			return i
		}
	}
	return -1
}
