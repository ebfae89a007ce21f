// normalize.go maps codex exec's JSONL event vocabulary (thread/turn
// lifecycle plus typed items) onto the shared protocol types. Item
// starts open tool invocations; completions close them, correlated by
// the backend's item identifier.
package codex

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/marcus/switchboard/internal/logging"
	"github.com/marcus/switchboard/internal/protocol"
)

// toolItemTypes are item types surfaced as tool invocations.
var toolItemTypes = map[string]bool{
	"command_execution": true,
	"file_change":       true,
	"file_changes":      true,
	"web_search":        true,
	"mcp_tool_call":     true,
}

type normalizer struct {
	// byItem maps backend item identifiers to synthesized tool-use IDs.
	byItem map[string]string
	log    *logging.Logger
}

func newNormalizer(log *logging.Logger) *normalizer {
	return &normalizer{byItem: make(map[string]string), log: log}
}

func (n *normalizer) normalize(raw map[string]any) []protocol.Message {
	switch getString(raw, "type") {
	case "thread.started", "turn.started":
		return nil
	case "item.started":
		return n.itemStarted(raw)
	case "item.updated":
		return nil
	case "item.completed":
		return n.itemCompleted(raw)
	case "turn.completed":
		return turnCompleted(raw)
	case "turn.failed":
		return turnFailed(raw)
	case "error":
		return []protocol.Message{protocol.Errorf(errorText(raw), "")}
	default:
		return n.unknownEvent(raw)
	}
}

// itemStarted opens a tool invocation for tool-shaped items. Text and
// reasoning items only matter once completed.
func (n *normalizer) itemStarted(raw map[string]any) []protocol.Message {
	item, ok := raw["item"].(map[string]any)
	if !ok {
		return nil
	}
	itemType := getString(item, "type")
	if !toolItemTypes[itemType] {
		return nil
	}

	id := uuid.NewString()
	if nativeID := getString(item, "id"); nativeID != "" {
		n.byItem[nativeID] = id
	}
	block := protocol.ContentBlock{
		Type: protocol.BlockToolUse,
		ToolUse: &protocol.ToolUse{
			ID:    id,
			Name:  toolName(item, itemType),
			Input: toolInput(item, itemType),
		},
	}
	return []protocol.Message{{Type: protocol.MessageAssistant, Blocks: []protocol.ContentBlock{block}}}
}

func (n *normalizer) itemCompleted(raw map[string]any) []protocol.Message {
	item, ok := raw["item"].(map[string]any)
	if !ok {
		return nil
	}
	itemType := getString(item, "type")
	switch {
	case itemType == "agent_message":
		if text := getString(item, "text"); text != "" {
			return []protocol.Message{protocol.Text(text)}
		}
		return nil
	case itemType == "reasoning":
		if text := getString(item, "text"); text != "" {
			return []protocol.Message{{
				Type:   protocol.MessageAssistant,
				Blocks: []protocol.ContentBlock{{Type: protocol.BlockThinking, Thinking: text}},
			}}
		}
		return nil
	case itemType == "todo_list":
		return n.todoList(item)
	case itemType == "error":
		return []protocol.Message{protocol.Errorf(errorText(item), "")}
	case toolItemTypes[itemType]:
		return n.toolCompleted(item, itemType)
	default:
		n.log.Debugf("dropping unrecognized item type %q", itemType)
		return nil
	}
}

// toolCompleted closes an open tool invocation. A completion whose
// item was never started degrades to plain text instead of inventing
// a correlation.
func (n *normalizer) toolCompleted(item map[string]any, itemType string) []protocol.Message {
	content := toolOutput(item, itemType)
	id, ok := n.byItem[getString(item, "id")]
	if !ok {
		n.log.Debugf("orphan %s completion (item id %q)", itemType, getString(item, "id"))
		if content == "" {
			return nil
		}
		return []protocol.Message{protocol.Text(content)}
	}
	isError := getString(item, "status") == "failed"
	block := protocol.ContentBlock{
		Type: protocol.BlockToolResult,
		ToolResult: &protocol.ToolResult{
			ToolUseID: id,
			Content:   content,
			IsError:   isError,
		},
	}
	return []protocol.Message{{Type: protocol.MessageAssistant, Blocks: []protocol.ContentBlock{block}}}
}

// todoList maps a plan update onto a synthetic tool call when its
// items are machine-parseable, plain text otherwise.
func (n *normalizer) todoList(item map[string]any) []protocol.Message {
	items, ok := item["items"].([]any)
	if ok && len(items) > 0 && parseablePlan(items) {
		input, _ := json.Marshal(map[string]any{"items": items})
		block := protocol.ContentBlock{
			Type: protocol.BlockToolUse,
			ToolUse: &protocol.ToolUse{
				ID:    uuid.NewString(),
				Name:  "update_plan",
				Input: input,
			},
		}
		return []protocol.Message{{Type: protocol.MessageAssistant, Blocks: []protocol.ContentBlock{block}}}
	}
	if text := getString(item, "text"); text != "" {
		return []protocol.Message{protocol.Text(text)}
	}
	if data, err := json.Marshal(item); err == nil {
		return []protocol.Message{protocol.Text(string(data))}
	}
	return nil
}

func parseablePlan(items []any) bool {
	for _, item := range items {
		im, ok := item.(map[string]any)
		if !ok || getString(im, "text") == "" {
			return false
		}
	}
	return true
}

func turnCompleted(raw map[string]any) []protocol.Message {
	info := &protocol.ResultInfo{Success: true}
	if usage, ok := raw["usage"].(map[string]any); ok {
		in := getInt(usage, "input_tokens")
		out := getInt(usage, "output_tokens")
		if in != 0 || out != 0 {
			info.Usage = &protocol.Usage{InputTokens: in, OutputTokens: out}
		}
	}
	return []protocol.Message{{Type: protocol.MessageResult, Result: info}}
}

func turnFailed(raw map[string]any) []protocol.Message {
	message := "turn failed"
	if errObj, ok := raw["error"].(map[string]any); ok {
		if m := errorText(errObj); m != "" {
			message = m
		}
	}
	return []protocol.Message{protocol.Errorf(message, "")}
}

func (n *normalizer) unknownEvent(raw map[string]any) []protocol.Message {
	for _, key := range []string{"text", "message"} {
		if text := getString(raw, key); text != "" {
			return []protocol.Message{protocol.Text(text)}
		}
	}
	n.log.Debugf("dropping unrecognized event type %q", getString(raw, "type"))
	return nil
}

// toolName picks the display name for a tool item; MCP calls surface
// the remote tool's own name.
func toolName(item map[string]any, itemType string) string {
	if itemType == "mcp_tool_call" {
		if name := getString(item, "name"); name != "" {
			return name
		}
		if name := getString(item, "tool_name"); name != "" {
			return name
		}
	}
	return itemType
}

// toolInput extracts the salient invocation parameters per item type.
func toolInput(item map[string]any, itemType string) json.RawMessage {
	switch itemType {
	case "command_execution":
		if cmd := getString(item, "command"); cmd != "" {
			data, _ := json.Marshal(map[string]string{"command": cmd})
			return data
		}
	case "web_search":
		if q := getString(item, "query"); q != "" {
			data, _ := json.Marshal(map[string]string{"query": q})
			return data
		}
	case "mcp_tool_call":
		if args, ok := item["arguments"]; ok {
			if data, err := json.Marshal(args); err == nil {
				return data
			}
		}
	}
	data, _ := json.Marshal(item)
	return data
}

// toolOutput extracts result text, preferring the aggregated form when
// both it and the raw output are present.
func toolOutput(item map[string]any, itemType string) string {
	if out := getString(item, "aggregated_output"); out != "" {
		return out
	}
	if out := getString(item, "output"); out != "" {
		return out
	}
	if itemType == "file_change" || itemType == "file_changes" {
		if changes, ok := item["changes"]; ok {
			if data, err := json.Marshal(changes); err == nil {
				return string(data)
			}
		}
	}
	return ""
}

func errorText(m map[string]any) string {
	message := getString(m, "message")
	if message == "" {
		message = getString(m, "text")
	}
	if message == "" {
		message = "unknown error"
	}
	if code := getString(m, "code"); code != "" {
		return code + ": " + message
	}
	return message
}

func getString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func getInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
	}
	return 0
}
