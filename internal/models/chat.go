package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultChatModel is used when a request names no model.
const DefaultChatModel = "gpt-3.5-turbo"

// ChatRequest is the body of POST /v1/chat/completions.
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        json.RawMessage `json:"stop,omitempty"`
}

// Normalize fills in request defaults.
func (r *ChatRequest) Normalize() {
	if r.Model == "" {
		r.Model = DefaultChatModel
	}
}

// Message is a chat message. Content is kept raw because clients send either
// a string or a list of content parts.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// TextMessage builds a message with plain string content.
func TextMessage(role, content string) Message {
	raw, _ := json.Marshal(content)
	return Message{Role: role, Content: raw}
}

// Text returns the content when it is a plain string, or the concatenated
// text parts when it is a list of parts.
func (m Message) Text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ChatCompletion is the non-streaming response body.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Choice holds the assistant message of a completion.
type Choice struct {
	Message AssistantMessage `json:"message"`
}

// AssistantMessage is the message returned to the caller.
type AssistantMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatChunk is one server-sent event of a streaming response.
type ChatChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice holds the incremental content of a chunk.
type ChunkChoice struct {
	Delta Delta `json:"delta"`
}

// Delta is incremental assistant content.
type Delta struct {
	Content string `json:"content"`
}

// NewCompletionID returns an identifier in the chatcmpl-xxxxxxxxxxxxxxxx form.
func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// NewChatCompletion wraps content in the completion envelope.
func NewChatCompletion(id, model, content string, now time.Time) ChatCompletion {
	return ChatCompletion{
		ID:      id,
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   model,
		Choices: []Choice{{Message: AssistantMessage{Role: "assistant", Content: content}}},
	}
}

// NewChatChunk wraps a content fragment in the chunk envelope.
func NewChatChunk(id, model, content string, now time.Time) ChatChunk {
	return ChatChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: now.Unix(),
		Model:   model,
		Choices: []ChunkChoice{{Delta: Delta{Content: content}}},
	}
}
