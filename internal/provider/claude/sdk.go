// sdk.go is the direct Anthropic Messages API path for lightweight
// requests: no tools, no output schema, no images. It avoids the cost
// of a full CLI agent session for plain question-answer work.
package claude

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/marcus/switchboard/internal/protocol"
	"github.com/marcus/switchboard/internal/provider"
)

// sdkMaxTokens caps direct API completions. Lightweight requests are
// conversational, not agentic, so a fixed cap is fine.
const sdkMaxTokens = 8192

// messagesClient is the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService and by mocks in tests.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// execSDK issues one non-streaming Messages call and emits the
// translated response. Failures become a single terminal error
// message, classified like CLI failures.
func (p *Provider) execSDK(ctx context.Context, plan *executionPlan, req provider.Request, out chan<- protocol.Message) {
	client := p.messages
	if client == nil {
		ac := sdk.NewClient(option.WithAPIKey(plan.apiKey))
		client = &ac.Messages
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: sdkMaxTokens,
		Messages:  encodeTurns(req),
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}

	msg, err := client.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		cls := provider.Classify(Name, err.Error(), loginCommand)
		emit(ctx, out, protocol.Errorf(cls.Message, cls.Hint))
		return
	}

	blocks, text := translateContent(msg)
	if len(blocks) > 0 {
		if !emit(ctx, out, protocol.Message{Type: protocol.MessageAssistant, Blocks: blocks}) {
			return
		}
	}

	info := &protocol.ResultInfo{Success: true, Text: text}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		info.Usage = &protocol.Usage{
			InputTokens:  int(u.InputTokens),
			OutputTokens: int(u.OutputTokens),
		}
	}
	emit(ctx, out, protocol.Message{Type: protocol.MessageResult, Result: info})
}

// encodeTurns maps history plus the current prompt onto API messages.
func encodeTurns(req provider.Request) []sdk.MessageParam {
	msgs := make([]sdk.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		if turn.Content == "" {
			continue
		}
		block := sdk.NewTextBlock(turn.Content)
		if turn.Role == "assistant" {
			msgs = append(msgs, sdk.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, sdk.NewUserMessage(block))
		}
	}
	msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(req.PromptText())))
	return msgs
}

// translateContent maps API content blocks onto protocol blocks and
// returns the concatenated text for the result summary.
func translateContent(msg *sdk.Message) ([]protocol.ContentBlock, string) {
	var blocks []protocol.ContentBlock
	var text string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			blocks = append(blocks, protocol.ContentBlock{Type: protocol.BlockText, Text: block.Text})
			if text != "" {
				text += "\n"
			}
			text += block.Text
		case "thinking":
			if block.Thinking == "" {
				continue
			}
			blocks = append(blocks, protocol.ContentBlock{Type: protocol.BlockThinking, Thinking: block.Thinking})
		}
	}
	return blocks, text
}
