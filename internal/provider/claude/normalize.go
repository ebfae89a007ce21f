// normalize.go maps the CLI's stream-json event vocabulary onto the
// shared protocol types. One raw record yields zero or more messages.
package claude

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/marcus/switchboard/internal/logging"
	"github.com/marcus/switchboard/internal/protocol"
)

// toolUseTable correlates tool_use starts with their later results.
// Backend-native identifiers map directly; starts without a native
// identifier get a synthesized one and queue in emission order, so a
// result without an identifier resolves to the oldest unmatched start.
type toolUseTable struct {
	byNative map[string]string
	anon     []string
}

func newToolUseTable() *toolUseTable {
	return &toolUseTable{byNative: make(map[string]string)}
}

// allocate registers a tool_use start and returns its correlation ID.
func (t *toolUseTable) allocate(nativeID string) string {
	id := uuid.NewString()
	if nativeID != "" {
		t.byNative[nativeID] = id
		return id
	}
	t.anon = append(t.anon, id)
	return id
}

// resolve matches a tool result to its start. Results without a native
// identifier consume at most one queued anonymous start, oldest first.
func (t *toolUseTable) resolve(nativeID string) (string, bool) {
	if nativeID != "" {
		id, ok := t.byNative[nativeID]
		return id, ok
	}
	if len(t.anon) > 0 {
		id := t.anon[0]
		t.anon = t.anon[1:]
		return id, true
	}
	return "", false
}

// normalizer translates one process's raw records. It is stateful: the
// correlation table spans the whole stream.
type normalizer struct {
	table *toolUseTable
	log   *logging.Logger
}

func newNormalizer(log *logging.Logger) *normalizer {
	return &normalizer{table: newToolUseTable(), log: log}
}

// normalize maps one decoded record onto protocol messages.
func (n *normalizer) normalize(raw map[string]any) []protocol.Message {
	switch getString(raw, "type") {
	case "system":
		// Init handshakes and other lifecycle chatter carry nothing
		// the caller acts on.
		return nil
	case "assistant":
		return n.assistant(raw)
	case "user":
		return n.userContent(raw)
	case "tool":
		return n.toolEvent(raw)
	case "todo":
		return n.todoEvent(raw)
	case "result":
		return resultEvent(raw)
	case "error":
		return errorEvent(raw)
	case "stream_event":
		// Partial-message deltas; the full block arrives separately.
		return nil
	default:
		return n.unknownEvent(raw)
	}
}

// assistant maps the content array of an assistant event. Tool starts
// enter the correlation table here.
func (n *normalizer) assistant(raw map[string]any) []protocol.Message {
	message, ok := raw["message"].(map[string]any)
	if !ok {
		// Flat fallback shape: text at the top level.
		if text := getString(raw, "text"); text != "" {
			return []protocol.Message{protocol.Text(text)}
		}
		return nil
	}

	contentArr, _ := message["content"].([]any)
	var blocks []protocol.ContentBlock
	for _, c := range contentArr {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		switch getString(cm, "type") {
		case "text":
			if text := getString(cm, "text"); text != "" {
				blocks = append(blocks, protocol.ContentBlock{Type: protocol.BlockText, Text: text})
			}
		case "thinking":
			if thinking := getString(cm, "thinking"); thinking != "" {
				blocks = append(blocks, protocol.ContentBlock{Type: protocol.BlockThinking, Thinking: thinking})
			}
		case "tool_use":
			blocks = append(blocks, protocol.ContentBlock{
				Type: protocol.BlockToolUse,
				ToolUse: &protocol.ToolUse{
					ID:    n.table.allocate(getString(cm, "id")),
					Name:  getString(cm, "name"),
					Input: marshalAny(cm["input"]),
				},
			})
		}
	}
	if len(blocks) == 0 {
		return nil
	}
	return []protocol.Message{{Type: protocol.MessageAssistant, Blocks: blocks}}
}

// userContent maps tool_result blocks echoed back on user events.
func (n *normalizer) userContent(raw map[string]any) []protocol.Message {
	message, ok := raw["message"].(map[string]any)
	if !ok {
		return nil
	}
	contentArr, _ := message["content"].([]any)
	var blocks []protocol.ContentBlock
	for _, c := range contentArr {
		cm, ok := c.(map[string]any)
		if !ok || getString(cm, "type") != "tool_result" {
			continue
		}
		blocks = append(blocks, n.toolResultBlock(cm, getString(cm, "tool_use_id")))
	}
	if len(blocks) == 0 {
		return nil
	}
	return []protocol.Message{{Type: protocol.MessageAssistant, Blocks: blocks}}
}

// toolEvent maps a standalone completed-tool event.
func (n *normalizer) toolEvent(raw map[string]any) []protocol.Message {
	block := n.toolResultBlock(raw, getString(raw, "id"))
	return []protocol.Message{{Type: protocol.MessageAssistant, Blocks: []protocol.ContentBlock{block}}}
}

// toolResultBlock correlates one tool result and collects its output.
// An orphan result (no matching start) degrades to plain text rather
// than fabricating a correlation.
func (n *normalizer) toolResultBlock(cm map[string]any, nativeID string) protocol.ContentBlock {
	content := toolOutput(cm)
	id, ok := n.table.resolve(nativeID)
	if !ok {
		n.log.Debugf("orphan tool result (native id %q)", nativeID)
		return protocol.ContentBlock{Type: protocol.BlockText, Text: content}
	}
	isError, _ := cm["is_error"].(bool)
	return protocol.ContentBlock{
		Type: protocol.BlockToolResult,
		ToolResult: &protocol.ToolResult{
			ToolUseID: id,
			Content:   content,
			IsError:   isError,
		},
	}
}

// toolOutput collects a tool result's output text. Some CLI versions
// report the same payload under both "content" and "output"; identical
// values are collapsed to one.
func toolOutput(cm map[string]any) string {
	content := flattenContent(cm["content"])
	output := flattenContent(cm["output"])
	switch {
	case content == "":
		return output
	case output == "" || output == content:
		return content
	default:
		return content + "\n" + output
	}
}

// flattenContent renders string, block-array, or arbitrary JSON
// content as text.
func flattenContent(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		var b strings.Builder
		for _, item := range c {
			im, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text := getString(im, "text"); text != "" {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(text)
			}
		}
		return b.String()
	default:
		if data, err := json.Marshal(c); err == nil {
			return string(data)
		}
		return ""
	}
}

// todoEvent maps a checklist update onto a synthetic TodoWrite tool
// call when the items are machine-parseable, plain text otherwise.
func (n *normalizer) todoEvent(raw map[string]any) []protocol.Message {
	items, ok := raw["todos"].([]any)
	if ok && len(items) > 0 && parseableTodos(items) {
		input := marshalAny(map[string]any{"todos": items})
		block := protocol.ContentBlock{
			Type: protocol.BlockToolUse,
			ToolUse: &protocol.ToolUse{
				ID:    n.table.allocate(""),
				Name:  "TodoWrite",
				Input: input,
			},
		}
		return []protocol.Message{{Type: protocol.MessageAssistant, Blocks: []protocol.ContentBlock{block}}}
	}
	if text := getString(raw, "text"); text != "" {
		return []protocol.Message{protocol.Text(text)}
	}
	if data, err := json.Marshal(raw); err == nil {
		return []protocol.Message{protocol.Text(string(data))}
	}
	return nil
}

func parseableTodos(items []any) bool {
	for _, item := range items {
		im, ok := item.(map[string]any)
		if !ok || getString(im, "content") == "" {
			return false
		}
	}
	return true
}

// resultEvent maps the terminal turn summary.
func resultEvent(raw map[string]any) []protocol.Message {
	isError, _ := raw["is_error"].(bool)
	text := getString(raw, "result")
	if text == "" {
		text = getString(raw, "text")
	}
	info := &protocol.ResultInfo{Success: !isError, Text: text}
	if usage := extractUsage(raw); usage != nil {
		info.Usage = usage
	}
	return []protocol.Message{{Type: protocol.MessageResult, Result: info}}
}

// errorEvent maps a backend-reported error event.
func errorEvent(raw map[string]any) []protocol.Message {
	message := getString(raw, "message")
	if message == "" {
		message = getString(raw, "error")
	}
	if code := getString(raw, "code"); code != "" {
		message = code + ": " + message
	}
	return []protocol.Message{protocol.Errorf(message, "")}
}

// unknownEvent salvages plain text from an unrecognized event type,
// otherwise drops it with a diagnostic.
func (n *normalizer) unknownEvent(raw map[string]any) []protocol.Message {
	for _, key := range []string{"text", "message", "content"} {
		if text := getString(raw, key); text != "" {
			return []protocol.Message{protocol.Text(text)}
		}
	}
	n.log.Debugf("dropping unrecognized event type %q", getString(raw, "type"))
	return nil
}

// extractUsage pulls token counts from the record or its nested
// message, tolerating either placement.
func extractUsage(raw map[string]any) *protocol.Usage {
	usage, ok := raw["usage"].(map[string]any)
	if !ok {
		if message, ok := raw["message"].(map[string]any); ok {
			usage, _ = message["usage"].(map[string]any)
		}
	}
	if usage == nil {
		return nil
	}
	in := getInt(usage, "input_tokens")
	out := getInt(usage, "output_tokens")
	if in == 0 && out == 0 {
		return nil
	}
	return &protocol.Usage{InputTokens: in, OutputTokens: out}
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

func marshalAny(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf("%q", fmt.Sprint(v)))
	}
	return data
}
