// Package backends wires the concrete providers into the process-wide
// registry. The host calls Init exactly once during startup; nothing
// registers itself through import side effects.
package backends

import (
	"fmt"
	"strings"

	"github.com/marcus/switchboard/internal/provider"
	"github.com/marcus/switchboard/internal/provider/claude"
	"github.com/marcus/switchboard/internal/provider/codex"
	"github.com/marcus/switchboard/internal/settings"
)

// Init registers every backend and applies the configured default.
func Init(s *settings.Settings) error {
	return register(provider.Default(), s)
}

func register(reg *provider.Registry, s *settings.Settings) error {
	if err := reg.Register(provider.Registration{
		Name:     claude.Name,
		Aliases:  []string{"claude-code", "anthropic"},
		Priority: 10,
		CanHandle: func(model string) bool {
			return strings.HasPrefix(strings.ToLower(model), "claude-")
		},
		Factory: func() provider.Provider {
			return claude.New(claude.WithSettings(s))
		},
	}); err != nil {
		return fmt.Errorf("registering claude: %w", err)
	}

	if err := reg.Register(provider.Registration{
		Name:     codex.Name,
		Aliases:  []string{"openai"},
		Priority: 5,
		CanHandle: func(model string) bool {
			lower := strings.ToLower(model)
			return strings.HasPrefix(lower, "gpt-") || strings.HasPrefix(lower, "o3") || strings.HasPrefix(lower, "o4")
		},
		Factory: func() provider.Provider {
			return codex.New(codex.WithSettings(s))
		},
	}); err != nil {
		return fmt.Errorf("registering codex: %w", err)
	}

	if s != nil && s.DefaultBackend != "" {
		reg.SetDefault(s.DefaultBackend)
	}
	return nil
}
