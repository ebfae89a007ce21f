// Package protocol defines the shared message types emitted by every
// provider backend. Callers consume this one vocabulary regardless of
// which agent CLI or SDK produced the underlying events.
package protocol

import "encoding/json"

// MessageType identifies the kind of message a provider emitted.
type MessageType string

const (
	// MessageAssistant carries one or more content blocks from the model.
	MessageAssistant MessageType = "assistant"

	// MessageResult is the terminal success/failure summary for a query.
	MessageResult MessageType = "result"

	// MessageError is a terminal, human-readable failure report.
	MessageError MessageType = "error"
)

// Message is the backend-agnostic output unit. Exactly one of the
// payload fields matching Type is populated.
type Message struct {
	Type MessageType `json:"type"`

	// Blocks holds the content for assistant messages.
	Blocks []ContentBlock `json:"blocks,omitempty"`

	// Result holds the terminal summary for result messages.
	Result *ResultInfo `json:"result,omitempty"`

	// Error holds failure details for error messages.
	Error *ErrorInfo `json:"error,omitempty"`
}

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one unit of assistant content.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text is the content for text blocks.
	Text string `json:"text,omitempty"`

	// Thinking is the reasoning span for thinking blocks.
	Thinking string `json:"thinking,omitempty"`

	// ToolUse describes a tool invocation (tool_use blocks).
	ToolUse *ToolUse `json:"tool_use,omitempty"`

	// ToolResult carries a completed tool's output (tool_result blocks).
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolUse describes the start of a tool invocation.
type ToolUse struct {
	// ID correlates this invocation with its later ToolResult.
	ID string `json:"id"`

	// Name is the tool identifier as reported by the backend.
	Name string `json:"name"`

	// Input is the tool's input parameters as raw JSON.
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult carries the output of a completed tool invocation.
type ToolResult struct {
	// ToolUseID matches the ID of the originating ToolUse.
	ToolUseID string `json:"tool_use_id"`

	// Content is the collected tool output.
	Content string `json:"content,omitempty"`

	// IsError marks tool-level failures (the stream continues).
	IsError bool `json:"is_error,omitempty"`
}

// ResultInfo summarizes a completed query.
type ResultInfo struct {
	// Success is false when the backend reported a failed turn.
	Success bool `json:"success"`

	// Text is the optional final assistant text.
	Text string `json:"text,omitempty"`

	// Usage holds token accounting when the backend reports it.
	Usage *Usage `json:"usage,omitempty"`
}

// ErrorInfo describes a terminal failure.
type ErrorInfo struct {
	// Message is the human-readable failure description.
	Message string `json:"message"`

	// Hint is an optional user-actionable remediation suggestion.
	Hint string `json:"hint,omitempty"`
}

// Usage contains token usage reported by the backend.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Text returns a convenience assistant message with a single text block.
func Text(s string) Message {
	return Message{
		Type:   MessageAssistant,
		Blocks: []ContentBlock{{Type: BlockText, Text: s}},
	}
}

// Errorf returns an error message with an optional remediation hint.
func Errorf(message, hint string) Message {
	return Message{
		Type:  MessageError,
		Error: &ErrorInfo{Message: message, Hint: hint},
	}
}

// FirstText returns the first text block's content, or "".
func (m Message) FirstText() string {
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			return b.Text
		}
	}
	return ""
}

// ModelDescriptor describes one model a provider can serve.
type ModelDescriptor struct {
	// ID is the logical model identifier routed through the registry.
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// SupportsReasoningEffort marks models that accept an effort hint.
	SupportsReasoningEffort bool `json:"supports_reasoning_effort,omitempty"`
}
