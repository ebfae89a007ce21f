// Package codex implements the provider contract on top of the Codex
// CLI's exec mode. The backend is distributed through npm's runner, so
// location short-circuits to npx without filesystem probing.
package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/marcus/switchboard/internal/locate"
	"github.com/marcus/switchboard/internal/logging"
	"github.com/marcus/switchboard/internal/protocol"
	"github.com/marcus/switchboard/internal/provider"
	"github.com/marcus/switchboard/internal/security"
	"github.com/marcus/switchboard/internal/settings"
	"github.com/marcus/switchboard/internal/stream"
)

const (
	// Name is the backend identifier this provider registers under.
	Name = "codex"

	// DefaultModel serves requests that don't name a model.
	DefaultModel = "gpt-5-codex"

	loginCommand  = "codex login"
	runnerPackage = "@openai/codex"
)

type streamFunc func(ctx context.Context, spec stream.Spec) (<-chan stream.Record, error)

// Provider runs queries through codex exec with JSONL output.
type Provider struct {
	cfg     settings.BackendSettings
	global  *settings.Settings
	locator *locate.Locator
	creds   security.CredentialProbe
	run     streamFunc
	log     *logging.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithSettings overrides the global settings source.
func WithSettings(s *settings.Settings) Option {
	return func(p *Provider) {
		p.global = s
		p.cfg = s.Backend(Name)
	}
}

// WithLocator overrides the backend locator (for testing).
func WithLocator(l *locate.Locator) Option {
	return func(p *Provider) { p.locator = l }
}

// WithCredentials overrides the credential probe (for testing).
func WithCredentials(c security.CredentialProbe) Option {
	return func(p *Provider) { p.creds = c }
}

// WithStreamFunc overrides the subprocess engine (for testing).
func WithStreamFunc(fn streamFunc) Option {
	return func(p *Provider) { p.run = fn }
}

// Spec describes how the codex executable is distributed and found.
func Spec(cfg settings.BackendSettings) locate.BackendSpec {
	return locate.BackendSpec{
		Name:          Name,
		RunnerPackage: runnerPackage,
		RunnerOnly:    cfg.BinaryPath == "",
		BridgeDistro:  cfg.BridgeDistro,
	}
}

// New builds a codex provider from global settings.
func New(opts ...Option) *Provider {
	global := settings.Global()
	p := &Provider{
		cfg:    global.Backend(Name),
		global: global,
		creds: security.CredentialProbe{
			EnvVar:      security.EnvOpenAIKey,
			ConfigFiles: []string{"~/.codex/auth.json"},
		},
		run: stream.Run,
		log: logging.Component("codex"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.locator == nil {
		p.locator = locate.New(Spec(p.cfg))
	}
	return p
}

// Name returns the backend identifier.
func (p *Provider) Name() string { return Name }

// Models lists the Codex models this provider serves.
func (p *Provider) Models() []protocol.ModelDescriptor {
	return []protocol.ModelDescriptor{
		{ID: "gpt-5-codex", Name: "GPT-5 Codex", SupportsReasoningEffort: true},
		{ID: "gpt-5", Name: "GPT-5", SupportsReasoningEffort: true},
		{ID: "gpt-4.1", Name: "GPT-4.1"},
	}
}

// supportsReasoningEffort reports whether model accepts an effort hint.
func (p *Provider) supportsReasoningEffort(model string) bool {
	for _, m := range p.Models() {
		if m.ID == model {
			return m.SupportsReasoningEffort
		}
	}
	return false
}

// DetectInstallation probes runner availability and credentials.
func (p *Provider) DetectInstallation(ctx context.Context) (provider.Detection, error) {
	det := provider.Detection{Authenticated: p.creds.Available()}
	if p.cfg.BinaryPath != "" {
		det.Installed = true
		det.Path = p.cfg.BinaryPath
		return det, nil
	}
	loc, err := p.locator.Locate(ctx)
	if err != nil {
		return det, err
	}
	det.Installed = loc.Installed()
	det.Path = loc.Path
	if !det.Installed {
		det.Guidance = p.locator.InstallGuidance()
	}
	return det, nil
}

// ExecuteQuery spawns codex exec and streams normalized messages.
func (p *Provider) ExecuteQuery(ctx context.Context, req provider.Request) (<-chan protocol.Message, error) {
	if req.WorkDir != "" {
		if err := security.ValidateWorkDir(req.WorkDir); err != nil {
			return nil, fmt.Errorf("codex: %w", err)
		}
	}
	if req.HasImages() {
		return nil, fmt.Errorf("codex: image prompt blocks are not supported")
	}

	loc := &locate.Result{Path: p.cfg.BinaryPath, Strategy: locate.StrategyDirect}
	if p.cfg.BinaryPath == "" {
		var err error
		loc, err = p.locator.Locate(ctx)
		if err != nil {
			return nil, err
		}
		if !loc.Installed() {
			return nil, provider.NotInstalled(Name, p.locator.InstallGuidance())
		}
	}
	if !p.creds.Available() {
		return nil, provider.NotAuthenticated(Name, fmt.Sprintf("run `%s` to authenticate", loginCommand))
	}

	out := make(chan protocol.Message)
	go func() {
		defer close(out)
		p.exec(ctx, loc, req, out)
	}()
	return out, nil
}

func (p *Provider) exec(ctx context.Context, loc *locate.Result, req provider.Request, out chan<- protocol.Message) {
	args, err := p.buildArgs(req)
	if err != nil {
		emit(ctx, out, protocol.Errorf(err.Error(), ""))
		return
	}

	command, argv := loc.Command(Spec(p.cfg), args...)
	records, err := p.run(ctx, stream.Spec{
		Command: command,
		Args:    argv,
		Dir:     req.WorkDir,
		Env:     p.childEnv(),
		Stdin:   buildPrompt(req),
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		cls := provider.Classify(Name, err.Error(), loginCommand)
		emit(ctx, out, protocol.Errorf(cls.Message, cls.Hint))
		return
	}

	norm := newNormalizer(p.log)
	for rec := range records {
		if rec.IsError() {
			if rec.Line != "" {
				if !emit(ctx, out, protocol.Errorf(rec.Err, "")) {
					return
				}
				continue
			}
			cls := provider.Classify(Name, rec.Err, loginCommand)
			if !emit(ctx, out, protocol.Errorf(cls.Message, cls.Hint)) {
				return
			}
			continue
		}
		for _, msg := range norm.normalize(rec.Data) {
			if !emit(ctx, out, msg) {
				return
			}
		}
	}
}

// buildArgs assembles the codex exec invocation in fixed order.
// The trailing "-" makes exec read its prompt from stdin.
func (p *Provider) buildArgs(req provider.Request) ([]string, error) {
	// exec has no flags for these; surface the omission rather than
	// dropping the fields invisibly.
	if req.MaxTurns > 0 {
		p.log.Debugf("codex exec has no turn-cap flag; max turns %d not forwarded", req.MaxTurns)
	}
	if req.AllowedTools != nil {
		p.log.Debugf("codex exec has no tool allow-list flag; %d entries not forwarded", len(req.AllowedTools))
	}

	args := []string{"exec", "--json", "--skip-git-repo-check"}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	args = append(args, "--model", model)

	args = append(args, "--sandbox", p.sandboxPolicy(req))

	if effort, ok := req.Settings["reasoningEffort"].(string); ok && effort != "" {
		// The effort hint only reaches models that understand it.
		if p.supportsReasoningEffort(model) {
			args = append(args, "-c", "model_reasoning_effort="+strconv.Quote(effort))
		}
	}

	if len(req.OutputSchema) > 0 {
		scope, err := security.NewScope(req.WorkDir)
		if err != nil {
			return nil, fmt.Errorf("codex: %w", err)
		}
		path, err := writeSchema(scope, req.OutputSchema)
		if err != nil {
			return nil, err
		}
		args = append(args, "--output-schema", path)
	}

	return append(args, "-"), nil
}

// sandboxPolicy maps the shared permission mode onto codex sandbox
// levels.
func (p *Provider) sandboxPolicy(req provider.Request) string {
	mode := ""
	if v, ok := req.Settings["permissionMode"].(string); ok {
		mode = v
	}
	if mode == "" && p.global != nil {
		mode = p.global.PermissionMode
	}
	switch mode {
	case "bypassPermissions":
		return "danger-full-access"
	case "default":
		return "read-only"
	default:
		return "workspace-write"
	}
}

func writeSchema(scope *security.Scope, raw json.RawMessage) (string, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return "", fmt.Errorf("codex: output schema is not valid JSON: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return "", fmt.Errorf("codex: output schema: %w", err)
	}
	if _, err := c.Compile("schema.json"); err != nil {
		return "", fmt.Errorf("codex: output schema does not compile: %w", err)
	}
	return scope.WriteFile("output-schema.json", raw)
}

// buildPrompt renders the stdin prompt: system prompt, prior turns,
// then the task.
func buildPrompt(req provider.Request) string {
	var b strings.Builder
	if req.SystemPrompt != "" {
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}
	for _, turn := range req.History {
		if turn.Role == "assistant" {
			b.WriteString("Assistant: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	if len(req.History) > 0 {
		b.WriteString("\n")
	}
	b.WriteString(req.PromptText())
	return b.String()
}

var baseEnvPassthrough = []string{
	"HOME", "PATH", "USER", "SHELL", "TERM", "LANG", "LC_ALL", "TMPDIR",
	"XDG_CONFIG_HOME", "XDG_DATA_HOME",
	"NO_PROXY", "HTTP_PROXY", "HTTPS_PROXY",
	security.EnvOpenAIKey, "CODEX_HOME",
}

func (p *Provider) childEnv() []string {
	names := append([]string{}, baseEnvPassthrough...)
	names = append(names, p.cfg.EnvPassthrough...)
	return security.FilterEnv(names)
}

func emit(ctx context.Context, out chan<- protocol.Message, msg protocol.Message) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
