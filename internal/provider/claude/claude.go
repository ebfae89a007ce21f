// Package claude implements the provider contract on top of the
// Claude Code CLI, with a direct Anthropic API path for lightweight
// tool-free requests.
package claude

import (
	"context"
	"fmt"
	"os/exec"
	"time"

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
	Name = "claude"

	// DefaultModel serves requests that don't name a model.
	DefaultModel = "claude-sonnet-4-5"

	loginCommand  = "claude login"
	runnerPackage = "@anthropic-ai/claude-code"

	versionProbeTimeout = 5 * time.Second
)

// streamFunc matches stream.Run; injectable for tests.
type streamFunc func(ctx context.Context, spec stream.Spec) (<-chan stream.Record, error)

// Provider runs queries through the claude CLI or, for lightweight
// requests, directly against the Anthropic Messages API.
type Provider struct {
	cfg      settings.BackendSettings
	global   *settings.Settings
	locator  *locate.Locator
	creds    security.CredentialProbe
	probe    locate.CommandRunner
	run      streamFunc
	messages messagesClient
	log      *logging.Logger
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

// WithMessagesClient overrides the Anthropic API client (for testing).
func WithMessagesClient(m messagesClient) Option {
	return func(p *Provider) { p.messages = m }
}

// WithProbeRunner overrides the version-probe runner (for testing).
func WithProbeRunner(r locate.CommandRunner) Option {
	return func(p *Provider) { p.probe = r }
}

// Spec describes how the claude executable is distributed and found.
func Spec(cfg settings.BackendSettings) locate.BackendSpec {
	return locate.BackendSpec{
		Name:          Name,
		RunnerPackage: runnerPackage,
		BridgeDistro:  cfg.BridgeDistro,
		ExtraPaths:    []string{"~/.claude/local"},
	}
}

// New builds a claude provider from global settings.
func New(opts ...Option) *Provider {
	global := settings.Global()
	p := &Provider{
		cfg:    global.Backend(Name),
		global: global,
		creds: security.CredentialProbe{
			EnvVar: security.EnvAnthropicKey,
			ConfigFiles: []string{
				"~/.claude/.credentials.json",
				"~/.claude.json",
			},
		},
		probe: versionProbe{},
		run:   stream.Run,
		log:   logging.Component("claude"),
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

// Models lists the Claude models this provider serves.
func (p *Provider) Models() []protocol.ModelDescriptor {
	return []protocol.ModelDescriptor{
		{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5"},
		{ID: "claude-opus-4-1", Name: "Claude Opus 4.1"},
		{ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5"},
	}
}

// DetectInstallation probes the CLI location, version, and credentials.
func (p *Provider) DetectInstallation(ctx context.Context) (provider.Detection, error) {
	det := provider.Detection{Authenticated: p.creds.Available()}

	if p.cfg.BinaryPath != "" {
		det.Installed = true
		det.Path = p.cfg.BinaryPath
		det.Version = p.probeVersion(ctx, p.cfg.BinaryPath)
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
		return det, nil
	}
	if loc.Strategy == locate.StrategyDirect {
		det.Version = p.probeVersion(ctx, loc.Path)
	}
	return det, nil
}

func (p *Provider) probeVersion(ctx context.Context, path string) string {
	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	out, err := p.probe.Run(probeCtx, path, "--version")
	if err != nil {
		return ""
	}
	return firstLine(out)
}

// executionPlan is the resolved pre-spawn decision for one request.
type executionPlan struct {
	useSDK bool
	apiKey string
	loc    *locate.Result
}

// ExecuteQuery resolves an execution plan and streams the response.
// Missing installation or credentials fail here, before any process
// is spawned; all later failures arrive on the channel.
func (p *Provider) ExecuteQuery(ctx context.Context, req provider.Request) (<-chan protocol.Message, error) {
	plan, err := p.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan protocol.Message)
	go func() {
		defer close(out)
		if plan.useSDK {
			p.execSDK(ctx, plan, req, out)
			return
		}
		p.execCLI(ctx, plan, req, out)
	}()
	return out, nil
}

// plan decides between the direct API path and the CLI path. The API
// path serves requests that need no tools, no output schema, and no
// image content, and only when an API key is present; everything else
// goes through the CLI.
func (p *Provider) plan(ctx context.Context, req provider.Request) (*executionPlan, error) {
	if req.WorkDir != "" {
		if err := security.ValidateWorkDir(req.WorkDir); err != nil {
			return nil, fmt.Errorf("claude: %w", err)
		}
	}

	lightweight := req.NoToolsRequested() && len(req.OutputSchema) == 0 && !req.HasImages()
	if lightweight {
		if key := p.creds.APIKey(); key != "" {
			p.log.Debug("using direct API path")
			return &executionPlan{useSDK: true, apiKey: key}, nil
		}
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
	return &executionPlan{loc: loc}, nil
}

// execCLI spawns the claude CLI and normalizes its stream-json output.
func (p *Provider) execCLI(ctx context.Context, plan *executionPlan, req provider.Request, out chan<- protocol.Message) {
	args, stdin, err := p.buildArgs(req)
	if err != nil {
		emit(ctx, out, protocol.Errorf(err.Error(), ""))
		return
	}

	command, argv := plan.loc.Command(Spec(p.cfg), args...)
	records, err := p.run(ctx, stream.Spec{
		Command: command,
		Args:    argv,
		Dir:     req.WorkDir,
		Env:     p.childEnv(),
		Stdin:   stdin,
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
			// Parse failures are recoverable; the stream continues past
			// them. Termination records close the stream after emission.
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

// emit sends one message unless ctx is done. Reports whether the
// caller should keep going.
func emit(ctx context.Context, out chan<- protocol.Message, msg protocol.Message) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// versionProbe runs short-lived version checks with os/exec.
type versionProbe struct{}

func (versionProbe) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}
