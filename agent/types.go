package agent

import (
	"context"

	"github.com/north-leaf-W/QUT-Assistant/core"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall records one tool invocation made while producing an answer.
// Response stays empty until the tool has returned.
type ToolCall struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Parameters string `json:"parameters"`
	Response   string `json:"response,omitempty"`
}

type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

func (m Message) clone() Message {
	if m.ToolCalls != nil {
		m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return m
}

// Frame is one state of a running answer: either a snapshot of the messages
// produced so far or a terminal error.
type Frame struct {
	Messages []Message
	Err      error
}

// ToolSpec describes how a tool is presented to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool receives the raw argument text produced by the model and always
// answers with text; failures are reported inside that text.
type Tool interface {
	Spec() ToolSpec
	Call(ctx context.Context, params string) string
}

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]core.Document, error)
}
