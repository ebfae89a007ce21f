package claude

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/marcus/switchboard/internal/logging"
	"github.com/marcus/switchboard/internal/protocol"
)

func testNormalizer() *normalizer {
	return newNormalizer(logging.Component("claude-test"))
}

func decode(t *testing.T, line string) map[string]any {
	t.Helper()
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	return raw
}

func TestNormalizeAssistantBlocks(t *testing.T) {
	n := testNormalizer()
	line := `{"type":"assistant","message":{"content":[
		{"type":"thinking","thinking":"considering"},
		{"type":"text","text":"hello"},
		{"type":"tool_use","id":"toolu_1","name":"Read","input":{"path":"main.go"}}
	]}}`
	msgs := n.normalize(decode(t, line))
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	blocks := msgs[0].Blocks
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	if blocks[0].Type != protocol.BlockThinking || blocks[0].Thinking != "considering" {
		t.Errorf("unexpected thinking block: %+v", blocks[0])
	}
	if blocks[1].Type != protocol.BlockText || blocks[1].Text != "hello" {
		t.Errorf("unexpected text block: %+v", blocks[1])
	}
	tu := blocks[2].ToolUse
	if blocks[2].Type != protocol.BlockToolUse || tu == nil {
		t.Fatalf("expected tool_use block, got %+v", blocks[2])
	}
	if tu.Name != "Read" {
		t.Errorf("tool name = %q", tu.Name)
	}
	if tu.ID == "" {
		t.Error("tool use ID not synthesized")
	}
	if !strings.Contains(string(tu.Input), `"path":"main.go"`) {
		t.Errorf("tool input = %s", tu.Input)
	}
}

func TestNormalizeAssistantFlatText(t *testing.T) {
	n := testNormalizer()
	msgs := n.normalize(decode(t, `{"type":"assistant","text":"plain"}`))
	if len(msgs) != 1 || msgs[0].FirstText() != "plain" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestToolCorrelationByNativeID(t *testing.T) {
	n := testNormalizer()
	use := n.normalize(decode(t, `{"type":"assistant","message":{"content":[
		{"type":"tool_use","id":"toolu_42","name":"Bash","input":{}}]}}`))
	result := n.normalize(decode(t, `{"type":"user","message":{"content":[
		{"type":"tool_result","tool_use_id":"toolu_42","content":"ok"}]}}`))

	useID := use[0].Blocks[0].ToolUse.ID
	tr := result[0].Blocks[0].ToolResult
	if tr == nil {
		t.Fatalf("expected tool_result block, got %+v", result[0].Blocks[0])
	}
	if tr.ToolUseID != useID {
		t.Errorf("correlation mismatch: use %q, result %q", useID, tr.ToolUseID)
	}
	if tr.Content != "ok" {
		t.Errorf("content = %q", tr.Content)
	}
}

func TestToolCorrelationAnonymousFIFO(t *testing.T) {
	n := testNormalizer()
	first := n.normalize(decode(t, `{"type":"assistant","message":{"content":[
		{"type":"tool_use","name":"Read","input":{}}]}}`))
	second := n.normalize(decode(t, `{"type":"assistant","message":{"content":[
		{"type":"tool_use","name":"Write","input":{}}]}}`))

	firstID := first[0].Blocks[0].ToolUse.ID
	secondID := second[0].Blocks[0].ToolUse.ID
	if firstID == secondID {
		t.Fatal("anonymous tool uses share an ID")
	}

	r1 := n.normalize(decode(t, `{"type":"tool","output":"one"}`))
	r2 := n.normalize(decode(t, `{"type":"tool","output":"two"}`))
	if got := r1[0].Blocks[0].ToolResult.ToolUseID; got != firstID {
		t.Errorf("first result matched %q, want %q", got, firstID)
	}
	if got := r2[0].Blocks[0].ToolResult.ToolUseID; got != secondID {
		t.Errorf("second result matched %q, want %q", got, secondID)
	}
}

func TestOrphanToolResultDegradesToText(t *testing.T) {
	n := testNormalizer()
	msgs := n.normalize(decode(t, `{"type":"user","message":{"content":[
		{"type":"tool_result","tool_use_id":"toolu_missing","content":"stray output"}]}}`))
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	block := msgs[0].Blocks[0]
	if block.Type != protocol.BlockText || block.Text != "stray output" {
		t.Errorf("expected text degrade, got %+v", block)
	}
}

func TestToolOutputDeduplicatesContentAndOutput(t *testing.T) {
	n := testNormalizer()
	n.normalize(decode(t, `{"type":"assistant","message":{"content":[
		{"type":"tool_use","id":"t1","name":"Bash","input":{}}]}}`))

	msgs := n.normalize(decode(t, `{"type":"user","message":{"content":[
		{"type":"tool_result","tool_use_id":"t1","content":"same","output":"same"}]}}`))
	if got := msgs[0].Blocks[0].ToolResult.Content; got != "same" {
		t.Errorf("duplicate payload not collapsed: %q", got)
	}
}

func TestToolOutputBlockArrayContent(t *testing.T) {
	n := testNormalizer()
	n.normalize(decode(t, `{"type":"assistant","message":{"content":[
		{"type":"tool_use","id":"t2","name":"Read","input":{}}]}}`))

	msgs := n.normalize(decode(t, `{"type":"user","message":{"content":[
		{"type":"tool_result","tool_use_id":"t2","content":[
			{"type":"text","text":"line one"},{"type":"text","text":"line two"}]}]}}`))
	if got := msgs[0].Blocks[0].ToolResult.Content; got != "line one\nline two" {
		t.Errorf("content = %q", got)
	}
}

func TestTodoEventSyntheticToolCall(t *testing.T) {
	n := testNormalizer()
	msgs := n.normalize(decode(t, `{"type":"todo","todos":[
		{"content":"write tests","status":"pending"},
		{"content":"run lint","status":"completed"}]}`))
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	tu := msgs[0].Blocks[0].ToolUse
	if tu == nil || tu.Name != "TodoWrite" {
		t.Fatalf("expected synthetic TodoWrite, got %+v", msgs[0].Blocks[0])
	}
	if !strings.Contains(string(tu.Input), "write tests") {
		t.Errorf("input = %s", tu.Input)
	}
}

func TestTodoEventUnparseableDegradesToText(t *testing.T) {
	n := testNormalizer()
	msgs := n.normalize(decode(t, `{"type":"todo","todos":["not","structured"],"text":"2 tasks updated"}`))
	if len(msgs) != 1 || msgs[0].FirstText() != "2 tasks updated" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestResultEvent(t *testing.T) {
	n := testNormalizer()
	msgs := n.normalize(decode(t, `{"type":"result","subtype":"success","result":"all done",
		"usage":{"input_tokens":120,"output_tokens":45}}`))
	if len(msgs) != 1 || msgs[0].Type != protocol.MessageResult {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	res := msgs[0].Result
	if !res.Success || res.Text != "all done" {
		t.Errorf("result = %+v", res)
	}
	if res.Usage == nil || res.Usage.InputTokens != 120 || res.Usage.OutputTokens != 45 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestResultEventFailure(t *testing.T) {
	n := testNormalizer()
	msgs := n.normalize(decode(t, `{"type":"result","is_error":true,"result":"turn limit reached"}`))
	if msgs[0].Result.Success {
		t.Error("is_error result reported as success")
	}
}

func TestErrorEvent(t *testing.T) {
	n := testNormalizer()
	msgs := n.normalize(decode(t, `{"type":"error","code":"overloaded","message":"try again"}`))
	if len(msgs) != 1 || msgs[0].Type != protocol.MessageError {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if got := msgs[0].Error.Message; got != "overloaded: try again" {
		t.Errorf("message = %q", got)
	}
}

func TestUnknownEventSalvagesText(t *testing.T) {
	n := testNormalizer()
	msgs := n.normalize(decode(t, `{"type":"progress","message":"indexing files"}`))
	if len(msgs) != 1 || msgs[0].FirstText() != "indexing files" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestLifecycleEventsDropped(t *testing.T) {
	n := testNormalizer()
	for _, line := range []string{
		`{"type":"system","subtype":"init","session_id":"abc"}`,
		`{"type":"stream_event","event":{"type":"content_block_delta"}}`,
		`{"type":"opaque_binary_frame"}`,
	} {
		if msgs := n.normalize(decode(t, line)); len(msgs) != 0 {
			t.Errorf("%s yielded %+v, want none", line, msgs)
		}
	}
}
