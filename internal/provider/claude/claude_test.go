package claude

import (
	"context"
	"errors"
	"os"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/marcus/switchboard/internal/locate"
	"github.com/marcus/switchboard/internal/protocol"
	"github.com/marcus/switchboard/internal/provider"
	"github.com/marcus/switchboard/internal/security"
	"github.com/marcus/switchboard/internal/settings"
	"github.com/marcus/switchboard/internal/stream"
)

// failProbe is a CommandRunner whose every invocation fails.
type failProbe struct{}

func (failProbe) Run(context.Context, string, ...string) (string, error) {
	return "", errors.New("probe failed")
}

func missingLocator(t *testing.T) *locate.Locator {
	t.Helper()
	return locate.New(Spec(settings.BackendSettings{}),
		locate.WithGOOS("linux"),
		locate.WithHome(t.TempDir()),
		locate.WithRunner(failProbe{}),
		locate.WithLookPath(func(string) (string, error) { return "", errors.New("not found") }),
		locate.WithStat(func(string) (os.FileInfo, error) { return nil, os.ErrNotExist }),
	)
}

func installedLocator(t *testing.T, path string) *locate.Locator {
	t.Helper()
	return locate.New(Spec(settings.BackendSettings{}),
		locate.WithGOOS("linux"),
		locate.WithHome(t.TempDir()),
		locate.WithRunner(failProbe{}),
		locate.WithLookPath(func(string) (string, error) { return path, nil }),
	)
}

func envCreds(t *testing.T, key string) security.CredentialProbe {
	t.Helper()
	t.Setenv("SWITCHBOARD_TEST_API_KEY", key)
	return security.CredentialProbe{EnvVar: "SWITCHBOARD_TEST_API_KEY"}
}

func noCreds() security.CredentialProbe {
	return security.CredentialProbe{EnvVar: "SWITCHBOARD_TEST_UNSET_KEY"}
}

// fixedRecords returns a streamFunc that replays the given records and
// captures the spec it was invoked with.
func fixedRecords(captured *stream.Spec, records ...stream.Record) streamFunc {
	return func(_ context.Context, spec stream.Spec) (<-chan stream.Record, error) {
		if captured != nil {
			*captured = spec
		}
		out := make(chan stream.Record, len(records))
		for _, rec := range records {
			out <- rec
		}
		close(out)
		return out, nil
	}
}

func collect(t *testing.T, ch <-chan protocol.Message) []protocol.Message {
	t.Helper()
	var msgs []protocol.Message
	for m := range ch {
		msgs = append(msgs, m)
	}
	return msgs
}

func assistantRecord(text string) stream.Record {
	return stream.Record{
		Data: map[string]any{
			"type": "assistant",
			"message": map[string]any{
				"content": []any{map[string]any{"type": "text", "text": text}},
			},
		},
	}
}

func TestExecuteQueryNotInstalled(t *testing.T) {
	p := New(
		WithSettings(&settings.Settings{}),
		WithLocator(missingLocator(t)),
		WithCredentials(envCreds(t, "k")),
	)
	_, err := p.ExecuteQuery(context.Background(), provider.Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error for missing backend")
	}
	if kind := provider.KindOf(err); kind != provider.KindNotInstalled {
		t.Errorf("kind = %q, want not_installed", kind)
	}
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Hint == "" {
		t.Errorf("expected install guidance, got %v", err)
	}
}

func TestExecuteQueryNotAuthenticated(t *testing.T) {
	p := New(
		WithSettings(&settings.Settings{}),
		WithLocator(installedLocator(t, "/usr/bin/claude")),
		WithCredentials(noCreds()),
	)
	_, err := p.ExecuteQuery(context.Background(), provider.Request{Prompt: "hi"})
	if kind := provider.KindOf(err); kind != provider.KindNotAuthenticated {
		t.Fatalf("kind = %q, want not_authenticated (%v)", kind, err)
	}
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Hint != "run `claude login` to authenticate" {
		t.Errorf("hint = %v", err)
	}
}

func TestExecuteQueryStreamsNormalizedMessages(t *testing.T) {
	workDir := t.TempDir()
	var spec stream.Spec
	p := New(
		WithSettings(&settings.Settings{
			PermissionMode: "acceptEdits",
			Backends: map[string]settings.BackendSettings{
				"claude": {BinaryPath: "/opt/agents/claude"},
			},
		}),
		WithCredentials(envCreds(t, "k")),
		WithStreamFunc(fixedRecords(&spec,
			stream.Record{Data: map[string]any{"type": "system", "subtype": "init"}},
			assistantRecord("working on it"),
			stream.Record{Data: map[string]any{"type": "result", "result": "done"}},
		)),
	)

	ch, err := p.ExecuteQuery(context.Background(), provider.Request{
		Prompt:  "fix the bug",
		Model:   "claude-sonnet-4-5",
		WorkDir: workDir,
	})
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	msgs := collect(t, ch)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].FirstText() != "working on it" {
		t.Errorf("assistant text = %q", msgs[0].FirstText())
	}
	if msgs[1].Type != protocol.MessageResult || msgs[1].Result.Text != "done" {
		t.Errorf("result = %+v", msgs[1])
	}

	if spec.Command != "/opt/agents/claude" {
		t.Errorf("command = %q", spec.Command)
	}
	if spec.Dir != workDir {
		t.Errorf("dir = %q, want %q", spec.Dir, workDir)
	}
	if spec.Stdin != "fix the bug" {
		t.Errorf("stdin = %q", spec.Stdin)
	}
	if !containsArg(spec.Args, "--output-format") || !containsArg(spec.Args, "stream-json") {
		t.Errorf("args = %v", spec.Args)
	}
}

func TestExecuteQueryTerminalErrorClassified(t *testing.T) {
	p := New(
		WithSettings(&settings.Settings{
			Backends: map[string]settings.BackendSettings{"claude": {BinaryPath: "/opt/agents/claude"}},
		}),
		WithCredentials(envCreds(t, "k")),
		WithStreamFunc(fixedRecords(nil,
			stream.Record{Err: "Error: invalid api key"},
		)),
	)
	ch, err := p.ExecuteQuery(context.Background(), provider.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	msgs := collect(t, ch)
	if len(msgs) != 1 || msgs[0].Type != protocol.MessageError {
		t.Fatalf("expected single error message, got %+v", msgs)
	}
	if msgs[0].Error.Hint != "run `claude login` to authenticate" {
		t.Errorf("hint = %q", msgs[0].Error.Hint)
	}
}

func TestExecuteQueryParseFailureRecoverable(t *testing.T) {
	p := New(
		WithSettings(&settings.Settings{
			Backends: map[string]settings.BackendSettings{"claude": {BinaryPath: "/opt/agents/claude"}},
		}),
		WithCredentials(envCreds(t, "k")),
		WithStreamFunc(fixedRecords(nil,
			stream.Record{Line: "npm WARN deprecated", Err: "Failed to parse output: npm WARN deprecated"},
			assistantRecord("still here"),
		)),
	)
	ch, err := p.ExecuteQuery(context.Background(), provider.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	msgs := collect(t, ch)
	if len(msgs) != 2 {
		t.Fatalf("expected error then assistant, got %+v", msgs)
	}
	if msgs[0].Type != protocol.MessageError {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].FirstText() != "still here" {
		t.Errorf("stream did not continue past parse failure: %+v", msgs[1])
	}
}

// stubMessages satisfies messagesClient with a canned response.
type stubMessages struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestExecuteQueryUsesSDKForLightweightRequests(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "four"}},
		Usage:   sdk.Usage{InputTokens: 12, OutputTokens: 3},
	}}
	p := New(
		WithSettings(&settings.Settings{}),
		WithLocator(missingLocator(t)),
		WithCredentials(envCreds(t, "sk-test")),
		WithMessagesClient(stub),
	)

	// Tool-free request with a key present: no CLI needed even though
	// the binary is missing.
	ch, err := p.ExecuteQuery(context.Background(), provider.Request{
		Prompt:       "what is 2+2",
		AllowedTools: []string{},
		SystemPrompt: "be terse",
	})
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	msgs := collect(t, ch)
	if len(msgs) != 2 {
		t.Fatalf("expected assistant + result, got %+v", msgs)
	}
	if msgs[0].FirstText() != "four" {
		t.Errorf("assistant text = %q", msgs[0].FirstText())
	}
	res := msgs[1].Result
	if res == nil || !res.Success || res.Text != "four" {
		t.Errorf("result = %+v", msgs[1])
	}
	if res.Usage == nil || res.Usage.InputTokens != 12 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if len(stub.lastParams.System) != 1 || stub.lastParams.System[0].Text != "be terse" {
		t.Errorf("system = %+v", stub.lastParams.System)
	}
	if stub.lastParams.Model != sdk.Model(DefaultModel) {
		t.Errorf("model = %q", stub.lastParams.Model)
	}
}

func TestExecuteQuerySDKErrorClassified(t *testing.T) {
	stub := &stubMessages{err: errors.New("429 too many requests")}
	p := New(
		WithSettings(&settings.Settings{}),
		WithCredentials(envCreds(t, "sk-test")),
		WithMessagesClient(stub),
	)
	ch, err := p.ExecuteQuery(context.Background(), provider.Request{
		Prompt:       "hello",
		AllowedTools: []string{},
	})
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	msgs := collect(t, ch)
	if len(msgs) != 1 || msgs[0].Type != protocol.MessageError {
		t.Fatalf("expected single error message, got %+v", msgs)
	}
	if msgs[0].Error.Hint == "" {
		t.Error("rate-limit error carries no hint")
	}
}

func TestExecuteQueryCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	streamed := func(ctx context.Context, _ stream.Spec) (<-chan stream.Record, error) {
		out := make(chan stream.Record)
		go func() {
			defer close(out)
			out <- assistantRecord("first")
			<-ctx.Done()
		}()
		return out, nil
	}

	p := New(
		WithSettings(&settings.Settings{
			Backends: map[string]settings.BackendSettings{"claude": {BinaryPath: "/opt/agents/claude"}},
		}),
		WithCredentials(envCreds(t, "k")),
		WithStreamFunc(streamed),
	)
	ch, err := p.ExecuteQuery(ctx, provider.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}

	first := <-ch
	if first.FirstText() != "first" {
		t.Fatalf("unexpected first message: %+v", first)
	}
	cancel()

	for m := range ch {
		if m.Type == protocol.MessageError {
			t.Errorf("cancellation produced an error message: %+v", m)
		}
	}
}

func TestDetectInstallationMissing(t *testing.T) {
	p := New(
		WithSettings(&settings.Settings{}),
		WithLocator(missingLocator(t)),
		WithCredentials(noCreds()),
	)
	det, err := p.DetectInstallation(context.Background())
	if err != nil {
		t.Fatalf("DetectInstallation: %v", err)
	}
	if det.Installed {
		t.Error("reported installed")
	}
	if det.Guidance == "" {
		t.Error("missing install guidance")
	}
}

func TestDetectInstallationWithVersion(t *testing.T) {
	p := New(
		WithSettings(&settings.Settings{}),
		WithLocator(installedLocator(t, "/usr/bin/claude")),
		WithCredentials(envCreds(t, "k")),
		WithProbeRunner(stringProbe{"2.1.0 (Claude Code)\n"}),
	)
	det, err := p.DetectInstallation(context.Background())
	if err != nil {
		t.Fatalf("DetectInstallation: %v", err)
	}
	if !det.Installed || det.Path != "/usr/bin/claude" {
		t.Errorf("detection = %+v", det)
	}
	if det.Version != "2.1.0 (Claude Code)" {
		t.Errorf("version = %q", det.Version)
	}
	if !det.Authenticated {
		t.Error("credentials not detected")
	}
}

// stringProbe is a CommandRunner returning fixed output.
type stringProbe struct{ out string }

func (s stringProbe) Run(context.Context, string, ...string) (string, error) {
	return s.out, nil
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
