package provider

import (
	"context"
	"strings"
	"testing"

	"github.com/marcus/switchboard/internal/protocol"
)

// stubProvider is a minimal Provider for registry tests.
type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) ExecuteQuery(ctx context.Context, req Request) (<-chan protocol.Message, error) {
	ch := make(chan protocol.Message)
	close(ch)
	return ch, nil
}

func (s *stubProvider) DetectInstallation(ctx context.Context) (Detection, error) {
	return Detection{}, nil
}

func (s *stubProvider) Models() []protocol.ModelDescriptor { return nil }

func reg(name string, priority int, canHandle func(string) bool) Registration {
	return Registration{
		Name:      name,
		Priority:  priority,
		CanHandle: canHandle,
		Factory:   func() Provider { return &stubProvider{name: name} },
	}
}

func TestRegistry_PredicateMatch(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(reg("claude", 0, func(m string) bool {
		return strings.HasPrefix(m, "claude-")
	})); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(reg("codex", 0, func(m string) bool {
		return strings.HasPrefix(m, "gpt-")
	})); err != nil {
		t.Fatal(err)
	}

	name, err := r.ResolveName("gpt-5-codex")
	if err != nil {
		t.Fatalf("ResolveName() error: %v", err)
	}
	if name != "codex" {
		t.Errorf("resolved %q, want codex", name)
	}
}

func TestRegistry_PriorityBeatsRegistrationOrder(t *testing.T) {
	always := func(string) bool { return true }

	r := NewRegistry()
	if err := r.Register(reg("low", 1, always)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(reg("high", 10, always)); err != nil {
		t.Fatal(err)
	}

	name, err := r.ResolveName("anything")
	if err != nil {
		t.Fatalf("ResolveName() error: %v", err)
	}
	if name != "high" {
		t.Errorf("resolved %q, want high (higher priority wins regardless of order)", name)
	}
}

func TestRegistry_EqualPriorityResolvesByRegistrationOrder(t *testing.T) {
	always := func(string) bool { return true }

	r := NewRegistry()
	if err := r.Register(reg("first", 5, always)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(reg("second", 5, always)); err != nil {
		t.Fatal(err)
	}

	name, err := r.ResolveName("anything")
	if err != nil {
		t.Fatalf("ResolveName() error: %v", err)
	}
	if name != "first" {
		t.Errorf("resolved %q, want first (stable tie-break)", name)
	}
}

func TestRegistry_PrefixFallback(t *testing.T) {
	r := NewRegistry()
	// Predicates that never match force the prefix fallback.
	if err := r.Register(reg("claude", 0, func(string) bool { return false })); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(reg("codex", 0, func(string) bool { return false })); err != nil {
		t.Fatal(err)
	}

	name, err := r.ResolveName("codex-mini")
	if err != nil {
		t.Fatalf("ResolveName() error: %v", err)
	}
	if name != "codex" {
		t.Errorf("resolved %q, want codex via prefix", name)
	}
}

func TestRegistry_AliasPrefixFallback(t *testing.T) {
	r := NewRegistry()
	registration := reg("claude", 0, func(string) bool { return false })
	registration.Aliases = []string{"anthropic"}
	if err := r.Register(registration); err != nil {
		t.Fatal(err)
	}

	name, err := r.ResolveName("anthropic-sonnet")
	if err != nil {
		t.Fatalf("ResolveName() error: %v", err)
	}
	if name != "claude" {
		t.Errorf("resolved %q, want claude via alias prefix", name)
	}
}

func TestRegistry_DefaultFallback(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(reg("claude", 0, func(string) bool { return false })); err != nil {
		t.Fatal(err)
	}
	r.SetDefault("claude")

	name, err := r.ResolveName("some-unknown-model")
	if err != nil {
		t.Fatalf("ResolveName() error: %v", err)
	}
	if name != "claude" {
		t.Errorf("resolved %q, want claude (default)", name)
	}
}

func TestRegistry_NoMatchNoDefault(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(reg("claude", 0, func(string) bool { return false })); err != nil {
		t.Fatal(err)
	}

	if _, err := r.ResolveName("mystery"); err == nil {
		t.Fatal("expected resolution failure")
	}
}

func TestRegistry_ResolveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(reg("claude", 0, func(string) bool { return true })); err != nil {
		t.Fatal(err)
	}

	p1, err := r.Resolve("claude-sonnet")
	if err != nil {
		t.Fatal(err)
	}
	p2, err := r.Resolve("claude-sonnet")
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Error("repeated resolution should reuse the same provider instance")
	}
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(reg("claude", 0, nil)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(reg("claude", 0, nil)); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistry_GetByAlias(t *testing.T) {
	r := NewRegistry()
	registration := reg("claude", 0, nil)
	registration.Aliases = []string{"anthropic"}
	if err := r.Register(registration); err != nil {
		t.Fatal(err)
	}

	p, ok := r.Get("ANTHROPIC")
	if !ok {
		t.Fatal("expected alias lookup to succeed")
	}
	if p.Name() != "claude" {
		t.Errorf("Name() = %q, want claude", p.Name())
	}
}
