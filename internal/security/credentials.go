// credentials.go probes whether a backend has usable credentials.
// This is an indicator only: it checks env vars and well-known config
// files without reading secret material into memory longer than needed.
package security

import (
	"os"
	"path/filepath"
	"strings"
)

// Environment variable names for direct API credentials.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
)

// CredentialProbe describes where one backend keeps its credentials.
type CredentialProbe struct {
	// EnvVar is the API-key environment variable ("" = none).
	EnvVar string

	// ConfigFiles are home-relative paths whose presence indicates a
	// completed login flow (e.g. "~/.claude/.credentials.json").
	ConfigFiles []string
}

// APIKey returns the key from the probe's env var, or "".
func (p CredentialProbe) APIKey() string {
	if p.EnvVar == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(p.EnvVar))
}

// Available reports whether any credential source is present.
func (p CredentialProbe) Available() bool {
	if p.APIKey() != "" {
		return true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	for _, rel := range p.ConfigFiles {
		path := rel
		if strings.HasPrefix(rel, "~/") {
			path = filepath.Join(home, rel[2:])
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}
