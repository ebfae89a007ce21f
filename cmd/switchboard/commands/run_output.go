package commands

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/marcus/switchboard/internal/protocol"
)

// maxToolOutputLines bounds tool output echoed to the terminal; full
// output is always in the transcript.
const maxToolOutputLines = 10

// renderer writes normalized messages as terminal output.
type renderer struct {
	out          io.Writer
	errOut       io.Writer
	showThinking bool
}

func newRenderer(out, errOut io.Writer, showThinking bool) *renderer {
	return &renderer{out: out, errOut: errOut, showThinking: showThinking}
}

func (r *renderer) render(msg protocol.Message) {
	switch msg.Type {
	case protocol.MessageAssistant:
		for _, block := range msg.Blocks {
			r.renderBlock(block)
		}
	case protocol.MessageResult:
		r.renderResult(msg.Result)
	case protocol.MessageError:
		fmt.Fprintf(r.errOut, "error: %s\n", msg.Error.Message)
		if msg.Error.Hint != "" {
			fmt.Fprintf(r.errOut, "hint: %s\n", msg.Error.Hint)
		}
	}
}

func (r *renderer) renderBlock(block protocol.ContentBlock) {
	switch block.Type {
	case protocol.BlockText:
		fmt.Fprintln(r.out, block.Text)
	case protocol.BlockThinking:
		if r.showThinking {
			fmt.Fprintf(r.out, "[thinking] %s\n", block.Thinking)
		}
	case protocol.BlockToolUse:
		if block.ToolUse != nil {
			fmt.Fprintf(r.out, "→ %s %s\n", block.ToolUse.Name, compactJSON(block.ToolUse.Input))
		}
	case protocol.BlockToolResult:
		if block.ToolResult != nil {
			r.renderToolResult(block.ToolResult)
		}
	}
}

func (r *renderer) renderToolResult(tr *protocol.ToolResult) {
	marker := "←"
	if tr.IsError {
		marker = "← (failed)"
	}
	lines := strings.Split(strings.TrimRight(tr.Content, "\n"), "\n")
	if len(lines) > maxToolOutputLines {
		lines = append(lines[:maxToolOutputLines], fmt.Sprintf("… (%d more lines)", len(lines)-maxToolOutputLines))
	}
	for i, line := range lines {
		if i == 0 {
			fmt.Fprintf(r.out, "%s %s\n", marker, line)
			continue
		}
		fmt.Fprintf(r.out, "  %s\n", line)
	}
}

func (r *renderer) renderResult(res *protocol.ResultInfo) {
	if res == nil {
		return
	}
	status := "completed"
	if !res.Success {
		status = "failed"
	}
	if res.Usage != nil {
		fmt.Fprintf(r.errOut, "-- %s (tokens: %d in, %d out)\n",
			status, res.Usage.InputTokens, res.Usage.OutputTokens)
		return
	}
	fmt.Fprintf(r.errOut, "-- %s\n", status)
}

// compactJSON renders tool input on one line, truncated for display
// on a rune boundary.
func compactJSON(raw []byte) string {
	s := strings.Join(strings.Fields(string(raw)), " ")
	if len(s) > 120 {
		cut := 120
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "…"
	}
	return s
}
