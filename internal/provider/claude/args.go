// args.go builds the deterministic CLI invocation for one request:
// argv, the stdin prompt, and any request-scoped temp files (output
// schemas, decoded images) under the working directory's scope dir.
package claude

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/marcus/switchboard/internal/provider"
	"github.com/marcus/switchboard/internal/security"
)

// baseEnvPassthrough is the environment allow-list forwarded to the
// child process. Backend-specific additions come from settings.
var baseEnvPassthrough = []string{
	"HOME", "PATH", "USER", "SHELL", "TERM", "LANG", "LC_ALL", "TMPDIR",
	"XDG_CONFIG_HOME", "XDG_DATA_HOME",
	"NO_PROXY", "HTTP_PROXY", "HTTPS_PROXY",
	security.EnvAnthropicKey, "CLAUDE_CODE_OAUTH_TOKEN",
}

// buildArgs assembles argv and the stdin prompt for one request.
// Argument order is fixed so identical requests produce identical
// invocations.
func (p *Provider) buildArgs(req provider.Request) ([]string, string, error) {
	args := []string{"--print", "--verbose", "--output-format", "stream-json"}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	args = append(args, "--model", model)

	args = append(args, "--permission-mode", p.permissionMode(req))

	if req.AllowedTools != nil {
		// An empty allow-list is an explicit "no tools" request, not
		// a backend default.
		args = append(args, "--allowed-tools", strings.Join(req.AllowedTools, ","))
	}

	if turns := p.maxTurns(req); turns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(turns))
	}

	var scope *security.Scope
	if len(req.OutputSchema) > 0 || req.HasImages() {
		var err error
		scope, err = security.NewScope(req.WorkDir)
		if err != nil {
			return nil, "", fmt.Errorf("claude: %w", err)
		}
	}

	if len(req.OutputSchema) > 0 {
		path, err := writeSchema(scope, req.OutputSchema)
		if err != nil {
			return nil, "", err
		}
		args = append(args, "--output-schema", path)
	}

	imagePaths, err := writeImages(scope, req.Blocks)
	if err != nil {
		return nil, "", err
	}

	return args, buildPrompt(req, imagePaths), nil
}

// permissionMode resolves the sandbox/approval policy: a request-level
// override wins over the global setting.
func (p *Provider) permissionMode(req provider.Request) string {
	if v, ok := req.Settings["permissionMode"].(string); ok && v != "" {
		return v
	}
	if p.global != nil && p.global.PermissionMode != "" {
		return p.global.PermissionMode
	}
	return "acceptEdits"
}

func (p *Provider) maxTurns(req provider.Request) int {
	if req.MaxTurns > 0 {
		return req.MaxTurns
	}
	if p.global != nil {
		return p.global.MaxTurns
	}
	return 0
}

// writeSchema validates the output schema compiles as JSON Schema,
// then writes it into the request scope. A broken schema fails the
// request before anything is spawned.
func writeSchema(scope *security.Scope, raw json.RawMessage) (string, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return "", fmt.Errorf("claude: output schema is not valid JSON: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return "", fmt.Errorf("claude: output schema: %w", err)
	}
	if _, err := c.Compile("schema.json"); err != nil {
		return "", fmt.Errorf("claude: output schema does not compile: %w", err)
	}
	return scope.WriteFile("output-schema.json", raw)
}

// writeImages decodes image blocks into scope files and returns their
// paths in block order.
func writeImages(scope *security.Scope, blocks []provider.PromptBlock) ([]string, error) {
	var paths []string
	for i, b := range blocks {
		if b.Type != "image" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(b.Data)
		if err != nil {
			return nil, fmt.Errorf("claude: image block %d: %w", i, err)
		}
		name := fmt.Sprintf("image-%d%s", i, imageExt(b.MediaType))
		path, err := scope.WriteFile(name, data)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func imageExt(mediaType string) string {
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// buildPrompt renders the combined prompt fed through stdin: system
// prompt, prior turns, the task itself, and image file references.
// Stdin sidesteps argv length limits and shell-quoting hazards.
func buildPrompt(req provider.Request, imagePaths []string) string {
	var b strings.Builder

	if req.SystemPrompt != "" {
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}

	for _, turn := range req.History {
		switch turn.Role {
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	if len(req.History) > 0 {
		b.WriteString("\n")
	}

	b.WriteString(req.PromptText())

	for _, path := range imagePaths {
		b.WriteString("\n\nAttached image: ")
		b.WriteString(path)
	}
	return b.String()
}

// childEnv builds the allow-listed environment for the child process.
func (p *Provider) childEnv() []string {
	names := append([]string{}, baseEnvPassthrough...)
	names = append(names, p.cfg.EnvPassthrough...)
	return security.FilterEnv(names)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
