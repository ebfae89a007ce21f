// Package provider defines the contract between the host application
// and interchangeable AI coding-agent backends, plus the registry that
// routes a logical model identifier to the backend serving it.
package provider

import (
	"context"
	"encoding/json"

	"github.com/marcus/switchboard/internal/protocol"
)

// Provider is the caller-facing surface of one backend. Implementations
// translate a generic Request into a backend invocation and normalize
// the backend's native events onto protocol.Message.
type Provider interface {
	// Name returns the backend identifier, e.g. "claude".
	Name() string

	// ExecuteQuery runs one unit of work and streams normalized
	// messages. Pre-spawn failures (not installed, not authenticated)
	// are returned directly with no messages emitted; every later
	// failure arrives as exactly one terminal error message on the
	// channel. Cancelling ctx ends the stream with no error message.
	ExecuteQuery(ctx context.Context, req Request) (<-chan protocol.Message, error)

	// DetectInstallation probes whether the backend is usable.
	DetectInstallation(ctx context.Context) (Detection, error)

	// Models lists the model identifiers this backend can serve.
	Models() []protocol.ModelDescriptor
}

// Request is an immutable description of one unit of work. Callers
// build one per invocation and never mutate it afterwards.
type Request struct {
	// Prompt is the plain-text task. When Blocks is non-empty it is
	// ignored in favor of the typed content.
	Prompt string

	// Blocks is an ordered list of typed prompt content.
	Blocks []PromptBlock

	// Model is the logical model identifier (registry routes on it).
	Model string

	// WorkDir is the invocation's working directory. Request-scoped
	// temp files live under a hidden subdirectory of it.
	WorkDir string

	// History is prior conversation turns, oldest first.
	History []Turn

	// SystemPrompt overrides the backend's default system prompt.
	SystemPrompt string

	// AllowedTools is the tool allow-list. An empty, non-nil slice
	// means "no tools"; nil leaves the backend default.
	AllowedTools []string

	// MaxTurns caps agent turns (0 = backend default).
	MaxTurns int

	// OutputSchema constrains the final output to a JSON schema.
	OutputSchema json.RawMessage

	// Settings is a backend-specific options bag.
	Settings map[string]any
}

// PromptBlock is one typed unit of prompt content.
type PromptBlock struct {
	// Type is "text" or "image".
	Type string

	// Text is the content for text blocks.
	Text string

	// MediaType is the image MIME type, e.g. "image/png".
	MediaType string

	// Data is the base64-encoded image payload.
	Data string
}

// Turn is one prior conversation exchange.
type Turn struct {
	// Role is "user" or "assistant".
	Role string

	// Content is the turn's text.
	Content string
}

// NoToolsRequested reports whether the request explicitly asks for a
// tool-free run (empty, non-nil allow-list).
func (r Request) NoToolsRequested() bool {
	return r.AllowedTools != nil && len(r.AllowedTools) == 0
}

// HasImages reports whether any prompt block carries image data.
func (r Request) HasImages() bool {
	for _, b := range r.Blocks {
		if b.Type == "image" {
			return true
		}
	}
	return false
}

// PromptText flattens the typed blocks (or Prompt) into plain text,
// skipping non-text blocks.
func (r Request) PromptText() string {
	if len(r.Blocks) == 0 {
		return r.Prompt
	}
	var out string
	for _, b := range r.Blocks {
		if b.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// Detection is the result of an installation probe.
type Detection struct {
	Installed     bool   `json:"installed"`
	Path          string `json:"path,omitempty"`
	Version       string `json:"version,omitempty"`
	Authenticated bool   `json:"authenticated"`

	// Guidance is a user-actionable install hint when not installed.
	Guidance string `json:"guidance,omitempty"`
}
