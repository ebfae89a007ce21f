// Package security provides path validation and credential probing for
// switchboard. Every filesystem path handed to a backend invocation is
// validated here first, and request-scoped temp files are confined to
// a hidden subdirectory of the invocation's working directory.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ScopeDirName is the hidden subdirectory of a working directory that
// holds request-scoped temp files (output schemas, decoded images).
const ScopeDirName = ".switchboard"

var (
	// ErrEmptyPath indicates an empty path was supplied.
	ErrEmptyPath = errors.New("path is empty")

	// ErrRelativePath indicates a non-absolute path was supplied.
	ErrRelativePath = errors.New("path must be absolute")

	// ErrPathTraversal indicates the path escapes its confinement root.
	ErrPathTraversal = errors.New("path escapes its scope")
)

// ValidatePath checks that a path is absolute and free of traversal
// segments after cleaning.
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s", ErrRelativePath, path)
	}
	clean := filepath.Clean(path)
	if strings.Contains(clean, ".."+string(filepath.Separator)) || strings.HasSuffix(clean, "..") {
		return fmt.Errorf("%w: %s", ErrPathTraversal, path)
	}
	return nil
}

// ValidateWorkDir checks that a working directory is valid, exists,
// and is a directory.
func ValidateWorkDir(dir string) error {
	if err := ValidatePath(dir); err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory is not a directory: %s", dir)
	}
	return nil
}

// FilterEnv builds a child environment restricted to the allow-listed
// variable names. Unset variables are omitted rather than passed
// empty; duplicate names keep their first occurrence.
func FilterEnv(names []string) []string {
	var env []string
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

// Scope is a request-scoped temp-file area under one invocation's
// working directory. Files written through a Scope cannot escape it.
// Cleanup is the caller's responsibility, not this layer's.
type Scope struct {
	root string
}

// NewScope creates a uniquely named directory for one invocation under
// workDir's hidden scope root. Concurrent invocations sharing a working
// directory never see each other's files.
func NewScope(workDir string) (*Scope, error) {
	if err := ValidateWorkDir(workDir); err != nil {
		return nil, err
	}
	root := filepath.Join(workDir, ScopeDirName, uuid.NewString())
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("creating scope dir: %w", err)
	}
	return &Scope{root: root}, nil
}

// Root returns the scope directory path.
func (s *Scope) Root() string {
	return s.root
}

// WriteFile writes data to name inside the scope and returns the full
// path. name must be a bare file name; anything that would resolve
// outside the scope is rejected.
func (s *Scope) WriteFile(name string, data []byte) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return path, nil
}

// resolve joins name onto the scope root and verifies confinement.
func (s *Scope) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrEmptyPath
	}
	path := filepath.Join(s.root, name)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
	}
	return path, nil
}
