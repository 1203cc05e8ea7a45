package capability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role is the author of a chat message.
type Role string

// Chat roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// PartType is the kind of a structured content part.
type PartType string

// Content part types.
const (
	PartText  PartType = "text"
	PartImage PartType = "image_url"
)

// Part is one element of structured message content.
type Part struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

type contentKind uint8

const (
	kindText contentKind = iota
	kindParts
)

// Content is message content: either plain text or a list of structured
// parts. The zero value is empty text.
type Content struct {
	kind  contentKind
	text  string
	parts []Part
}

// TextContent returns plain text content.
func TextContent(s string) Content {
	return Content{kind: kindText, text: s}
}

// PartsContent returns structured content.
func PartsContent(parts ...Part) Content {
	return Content{kind: kindParts, parts: append([]Part(nil), parts...)}
}

// IsParts reports whether the content is structured.
func (c Content) IsParts() bool {
	return c.kind == kindParts
}

// Parts returns the structured parts, or nil for plain text.
func (c Content) Parts() []Part {
	if c.kind != kindParts {
		return nil
	}
	return append([]Part(nil), c.parts...)
}

// Text returns the textual content. Text parts are joined with newlines and
// non-text parts are skipped.
func (c Content) Text() string {
	switch c.kind {
	case kindText:
		return c.text
	case kindParts:
		var texts []string
		for _, p := range c.parts {
			if p.Type == PartText && p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	default:
		panic(fmt.Sprintf("capability: unknown content kind %d", c.kind))
	}
}

// MarshalJSON encodes text as a JSON string and parts as an array.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.kind == kindParts {
		return json.Marshal(c.parts)
	}
	return json.Marshal(c.text)
}

// UnmarshalJSON accepts either a string or an array of parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = TextContent("")
		return nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	case '[':
		var parts []Part
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return err
		}
		for _, p := range parts {
			if p.Type != PartText && p.Type != PartImage {
				return fmt.Errorf("unknown content part type %q", p.Type)
			}
		}
		*c = PartsContent(parts...)
		return nil
	default:
		return errors.New("content must be a string or an array of parts")
	}
}

// Message is one chat message.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// UserMessage returns a user message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: TextContent(text)}
}

// SystemMessage returns a system message with text content.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: TextContent(text)}
}

// LastUserText returns the text of the last user message, or "".
func LastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content.Text()
		}
	}
	return ""
}
