package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"absolute", "/tmp/project", nil},
		{"empty", "", ErrEmptyPath},
		{"whitespace", "   ", ErrEmptyPath},
		{"relative", "project/src", ErrRelativePath},
		{"traversal", "/tmp/project/../../etc", ErrPathTraversal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidatePath(%q) = %v, want nil", tt.path, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePath(%q) = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateWorkDir(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateWorkDir(dir); err != nil {
		t.Errorf("ValidateWorkDir(%q) = %v", dir, err)
	}

	if err := ValidateWorkDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}

	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := ValidateWorkDir(file); err == nil {
		t.Error("expected error for non-directory")
	}
}

func TestScope_WriteFile(t *testing.T) {
	workDir := t.TempDir()
	scope, err := NewScope(workDir)
	if err != nil {
		t.Fatalf("NewScope() error: %v", err)
	}

	if filepath.Dir(scope.Root()) != filepath.Join(workDir, ScopeDirName) {
		t.Errorf("Root() = %q, want a directory under %s", scope.Root(), ScopeDirName)
	}

	path, err := scope.WriteFile("schema.json", []byte(`{"type":"object"}`))
	if err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if filepath.Dir(path) != scope.Root() {
		t.Errorf("file written outside scope: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("written file missing: %v", err)
	}
}

func TestScope_UniquePerInvocation(t *testing.T) {
	workDir := t.TempDir()

	first, err := NewScope(workDir)
	if err != nil {
		t.Fatalf("NewScope() error: %v", err)
	}
	second, err := NewScope(workDir)
	if err != nil {
		t.Fatalf("NewScope() error: %v", err)
	}
	if first.Root() == second.Root() {
		t.Fatalf("scopes share a root: %s", first.Root())
	}

	// Same file name in both scopes must not collide.
	p1, err := first.WriteFile("output-schema.json", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	p2, err := second.WriteFile("output-schema.json", []byte(`{"b":2}`))
	if err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("both scopes wrote %s", p1)
	}
	data, err := os.ReadFile(p1)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("first scope's file overwritten: %s", data)
	}
}

func TestScope_RejectsEscape(t *testing.T) {
	scope, err := NewScope(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"../evil.txt", "../../etc/passwd", ""} {
		if _, err := scope.WriteFile(name, []byte("x")); err == nil {
			t.Errorf("WriteFile(%q) should be rejected", name)
		}
	}
}

func TestCredentialProbe_EnvVar(t *testing.T) {
	t.Setenv(EnvAnthropicKey, "sk-test")
	p := CredentialProbe{EnvVar: EnvAnthropicKey}
	if !p.Available() {
		t.Error("expected credential available via env")
	}
	if p.APIKey() != "sk-test" {
		t.Errorf("APIKey() = %q", p.APIKey())
	}

	t.Setenv(EnvAnthropicKey, "")
	if p.Available() {
		t.Error("expected no credential with empty env")
	}
}

func TestCredentialProbe_ConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	credDir := filepath.Join(home, ".claude")
	if err := os.MkdirAll(credDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(credDir, ".credentials.json"), []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}

	p := CredentialProbe{ConfigFiles: []string{"~/.claude/.credentials.json"}}
	if !p.Available() {
		t.Error("expected credential available via config file")
	}
}

func TestFilterEnv(t *testing.T) {
	t.Setenv("SB_FILTER_KEEP", "yes")
	t.Setenv("SB_FILTER_DROP", "no")

	env := FilterEnv([]string{"SB_FILTER_KEEP", "SB_FILTER_KEEP", "SB_FILTER_ABSENT"})
	if len(env) != 1 || env[0] != "SB_FILTER_KEEP=yes" {
		t.Errorf("env = %v", env)
	}
}
