// Package locate finds backend agent executables across platforms and
// packaging mechanisms. A backend may be runnable directly, through a
// subsystem bridge (WSL on Windows hosts for Linux-only tools), or via
// an ephemeral package runner (npx) with no persistent install.
package locate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/marcus/switchboard/internal/logging"
)

// Strategy identifies how a located backend is executed.
type Strategy string

const (
	// StrategyDirect runs the executable on the host OS.
	StrategyDirect Strategy = "direct"

	// StrategyBridge runs the executable inside a subsystem bridge (WSL).
	StrategyBridge Strategy = "bridge"

	// StrategyRunner invokes the backend through a package runner (npx).
	StrategyRunner Strategy = "runner"
)

// pathProbeTimeout bounds the which/where subprocess probe.
const pathProbeTimeout = 5 * time.Second

// BackendSpec describes how one backend is distributed and found.
type BackendSpec struct {
	// Name is the executable name, e.g. "claude".
	Name string

	// WindowsNative marks backends that run on Windows without a bridge.
	// When false, Windows hosts probe WSL before anything else.
	WindowsNative bool

	// RunnerPackage is the package-runner coordinate (npm package name).
	// Empty means the backend cannot be run through a package runner.
	RunnerPackage string

	// RunnerOnly marks backends distributed exclusively via the package
	// runner; location short-circuits without filesystem probing.
	RunnerOnly bool

	// BridgeDistro selects a specific WSL distribution ("" = default).
	BridgeDistro string

	// ExtraPaths lists backend-specific install locations probed after
	// the platform defaults. "~" expands to the home directory.
	ExtraPaths []string
}

// BridgeInfo carries the resolved bridge execution details.
type BridgeInfo struct {
	Bridge string // bridge executable on the host, e.g. "wsl.exe"
	Distro string // distribution name, "" for the bridge default
}

// Result is the resolved location of one backend. A zero Path with
// Strategy other than StrategyRunner means the backend is not installed.
type Result struct {
	Path     string
	Strategy Strategy
	Bridge   *BridgeInfo
}

// Installed reports whether the backend can be executed at all.
func (r *Result) Installed() bool {
	if r == nil {
		return false
	}
	return r.Path != "" || r.Strategy == StrategyRunner
}

// Command maps the result and backend args onto a host argv.
func (r *Result) Command(spec BackendSpec, args ...string) (string, []string) {
	switch r.Strategy {
	case StrategyBridge:
		bargs := []string{}
		if r.Bridge != nil && r.Bridge.Distro != "" {
			bargs = append(bargs, "-d", r.Bridge.Distro)
		}
		bargs = append(bargs, "--", r.Path)
		bridge := "wsl.exe"
		if r.Bridge != nil && r.Bridge.Bridge != "" {
			bridge = r.Bridge.Bridge
		}
		return bridge, append(bargs, args...)
	case StrategyRunner:
		return "npx", append([]string{"-y", spec.RunnerPackage}, args...)
	default:
		return r.Path, args
	}
}

// CommandRunner executes short-lived probe commands. Allows mocking in tests.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout string, err error)
}

// execProbe is the default CommandRunner using os/exec.
type execProbe struct{}

func (execProbe) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

// Locator performs lazy, cached backend location.
type Locator struct {
	spec     BackendSpec
	runner   CommandRunner
	goos     string
	home     string
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)

	once sync.Once
	res  *Result
	err  error
}

// Option configures a Locator.
type Option func(*Locator)

// WithRunner sets a custom probe runner (for testing).
func WithRunner(r CommandRunner) Option {
	return func(l *Locator) { l.runner = r }
}

// WithGOOS overrides the detected operating system (for testing).
func WithGOOS(goos string) Option {
	return func(l *Locator) { l.goos = goos }
}

// WithHome overrides the home directory used for "~" expansion (for testing).
func WithHome(home string) Option {
	return func(l *Locator) { l.home = home }
}

// WithLookPath overrides PATH resolution (for testing).
func WithLookPath(fn func(string) (string, error)) Option {
	return func(l *Locator) { l.lookPath = fn }
}

// WithStat overrides filesystem probing (for testing).
func WithStat(fn func(string) (os.FileInfo, error)) Option {
	return func(l *Locator) { l.stat = fn }
}

// New creates a Locator for the given backend.
func New(spec BackendSpec, opts ...Option) *Locator {
	home, _ := os.UserHomeDir()
	l := &Locator{
		spec:     spec,
		runner:   execProbe{},
		goos:     runtime.GOOS,
		home:     home,
		lookPath: exec.LookPath,
		stat:     os.Stat,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate resolves the backend's location. The first call probes; the
// result is cached for the lifetime of the Locator.
func (l *Locator) Locate(ctx context.Context) (*Result, error) {
	l.once.Do(func() {
		l.res, l.err = l.probe(ctx)
		if l.err == nil {
			log := logging.Component("locate")
			if l.res.Installed() {
				log.Debugf("%s resolved via %s (%s)", l.spec.Name, l.res.Strategy, l.res.Path)
			} else {
				log.Debugf("%s not found", l.spec.Name)
			}
		}
	})
	return l.res, l.err
}

// probe runs the strategy search order once. First match wins.
func (l *Locator) probe(ctx context.Context) (*Result, error) {
	// 1. Subsystem bridge for backends the host OS can't run natively.
	if l.goos == "windows" && !l.spec.WindowsNative {
		if res := l.probeBridge(ctx); res != nil {
			return res, nil
		}
	}

	// 2. Package-runner-only backends skip filesystem probing entirely.
	if l.spec.RunnerOnly {
		return &Result{Strategy: StrategyRunner}, nil
	}

	// 3. OS command-search path.
	if path := l.probePath(ctx); path != "" {
		return &Result{Path: path, Strategy: StrategyDirect}, nil
	}

	// 4. Well-known install locations.
	if path := l.probeCommonPaths(); path != "" {
		return &Result{Path: path, Strategy: StrategyDirect}, nil
	}

	// Installed runner package as a last resort before "not installed".
	if l.spec.RunnerPackage != "" {
		if _, err := l.lookPath("npx"); err == nil {
			return &Result{Strategy: StrategyRunner}, nil
		}
	}

	return &Result{Strategy: l.missingStrategy()}, nil
}

// probeBridge checks WSL availability, then searches inside the bridge.
func (l *Locator) probeBridge(ctx context.Context) *Result {
	if _, err := l.lookPath("wsl.exe"); err != nil {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, pathProbeTimeout)
	defer cancel()

	args := []string{}
	if l.spec.BridgeDistro != "" {
		args = append(args, "-d", l.spec.BridgeDistro)
	}
	args = append(args, "--", "which", l.spec.Name)

	out, err := l.runner.Run(probeCtx, "wsl.exe", args...)
	if err != nil {
		return nil
	}
	path := firstLine(out)
	if path == "" {
		return nil
	}
	return &Result{
		Path:     path,
		Strategy: StrategyBridge,
		Bridge:   &BridgeInfo{Bridge: "wsl.exe", Distro: l.spec.BridgeDistro},
	}
}

// probePath resolves the backend on the OS search path. LookPath first,
// then a which/where subprocess with a 5-second timeout; the first
// candidate that exists on disk wins.
func (l *Locator) probePath(ctx context.Context) string {
	if path, err := l.lookPath(l.spec.Name); err == nil {
		return path
	}

	probeCtx, cancel := context.WithTimeout(ctx, pathProbeTimeout)
	defer cancel()

	tool := "which"
	if l.goos == "windows" {
		tool = "where"
	}
	out, err := l.runner.Run(probeCtx, tool, l.spec.Name)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(out, "\n") {
		candidate := strings.TrimSpace(line)
		if candidate == "" {
			continue
		}
		if _, err := l.stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// probeCommonPaths checks fixed platform-specific install locations.
func (l *Locator) probeCommonPaths() string {
	for _, dir := range l.commonDirs() {
		candidate := filepath.Join(l.expand(dir), l.exeName())
		if _, err := l.stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// commonDirs returns the per-platform probe list, backend extras last.
func (l *Locator) commonDirs() []string {
	var dirs []string
	switch l.goos {
	case "windows":
		dirs = []string{
			"~/AppData/Roaming/npm",
			"~/AppData/Local/Programs/" + l.spec.Name,
			"~/scoop/shims",
		}
	case "darwin":
		dirs = []string{
			"~/.local/bin",
			"/usr/local/bin",
			"/opt/homebrew/bin",
			"~/.npm-global/bin",
			"~/.volta/bin",
		}
	default:
		dirs = []string{
			"~/.local/bin",
			"~/bin",
			"/usr/local/bin",
			"~/.npm-global/bin",
			"~/.volta/bin",
		}
	}
	return append(dirs, l.spec.ExtraPaths...)
}

func (l *Locator) exeName() string {
	if l.goos == "windows" {
		return l.spec.Name + ".cmd"
	}
	return l.spec.Name
}

// expand replaces a leading "~" with the home directory.
func (l *Locator) expand(path string) string {
	if path == "~" {
		return l.home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(l.home, path[2:])
	}
	return path
}

// missingStrategy names the strategy a user would install through, so
// guidance matches what was attempted.
func (l *Locator) missingStrategy() Strategy {
	if l.goos == "windows" && !l.spec.WindowsNative {
		return StrategyBridge
	}
	if l.spec.RunnerOnly {
		return StrategyRunner
	}
	return StrategyDirect
}

// InstallGuidance returns a user-actionable hint for a missing backend,
// specific to the strategy that was probed.
func (l *Locator) InstallGuidance() string {
	switch l.missingStrategy() {
	case StrategyBridge:
		return fmt.Sprintf("%s runs through WSL on Windows; install WSL, then install %s inside your distribution", l.spec.Name, l.spec.Name)
	case StrategyRunner:
		return fmt.Sprintf("%s runs via npx; install Node.js so `npx %s` is available", l.spec.Name, l.spec.RunnerPackage)
	default:
		if l.spec.RunnerPackage != "" {
			return fmt.Sprintf("install %s (npm install -g %s) and ensure it is on your PATH", l.spec.Name, l.spec.RunnerPackage)
		}
		return fmt.Sprintf("install %s and ensure it is on your PATH", l.spec.Name)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
