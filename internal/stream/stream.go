// Package stream spawns external agent processes and exposes their
// line-delimited JSON output as a lazy sequence of parsed records.
// It knows nothing about any specific backend's event vocabulary.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/marcus/switchboard/internal/logging"
)

const (
	// DefaultGracePeriod is the time between SIGTERM and SIGKILL on cancellation.
	DefaultGracePeriod = 5 * time.Second

	// DefaultMaxLineSize bounds a single stdout line (10 MiB). Agent CLIs
	// embed whole file contents in tool events, so lines get large.
	DefaultMaxLineSize = 10 * 1024 * 1024

	// maxExcerptLen caps the portion of a malformed line quoted in its
	// error record.
	maxExcerptLen = 100
)

// Record is one unit of process output. For a line that parsed as a
// JSON object, Data holds the decoded fields. For lines that failed to
// parse and for abnormal process termination, Err carries the error
// text and Data is nil.
type Record struct {
	Data map[string]any // decoded JSON object, nil for error records
	Line string         // original stdout line, "" for termination records
	Err  string         // non-empty for engine-synthesized error records
}

// IsError reports whether the record is engine-synthesized error output.
func (r Record) IsError() bool {
	return r.Err != ""
}

// Spec describes one subprocess invocation.
type Spec struct {
	Command string   // resolved executable path or name
	Args    []string // argv excluding the command itself
	Dir     string   // working directory ("" = inherit)
	Env     []string // child environment (nil = inherit parent)
	Stdin   string   // written to stdin then closed; "" leaves stdin closed

	// GracePeriod is the SIGTERM→SIGKILL window on cancellation.
	// Zero means DefaultGracePeriod.
	GracePeriod time.Duration

	// MaxLineSize bounds one stdout line. Zero means DefaultMaxLineSize.
	MaxLineSize int
}

// Run spawns the process described by spec and returns a channel of
// records, one per stdout line, in emission order. The channel closes
// when the process exits or ctx is cancelled.
//
// A spawn failure is returned directly and no channel is created.
// A non-zero exit appends exactly one terminal error record carrying
// the collected stderr text (or "Process exited with code N" when
// stderr is empty). Cancellation sends the process a termination
// signal and closes the channel with no further records; it is not
// reported as an error.
func Run(ctx context.Context, spec Spec) (<-chan Record, error) {
	if spec.GracePeriod <= 0 {
		spec.GracePeriod = DefaultGracePeriod
	}
	if spec.MaxLineSize <= 0 {
		spec.MaxLineSize = DefaultMaxLineSize
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	var stdin io.WriteCloser
	if spec.Stdin != "" {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Command, err)
	}

	if stdin != nil {
		go func() {
			_, _ = io.WriteString(stdin, spec.Stdin)
			_ = stdin.Close()
		}()
	}

	p := &pump{
		cmd:    cmd,
		spec:   spec,
		stderr: &stderr,
		out:    make(chan Record),
		log:    logging.Component("stream"),
	}
	go p.run(ctx, stdout)
	return p.out, nil
}

// pump owns one running subprocess and its read loop.
type pump struct {
	cmd      *exec.Cmd
	spec     Spec
	stderr   *bytes.Buffer
	out      chan Record
	log      *logging.Logger
	termOnce sync.Once
}

// terminate signals the process at most once. The grace timer escalates
// to SIGKILL off the read path so a stuck process cannot wedge teardown.
func (p *pump) terminate() {
	p.termOnce.Do(func() {
		proc := p.cmd.Process
		if proc == nil {
			return
		}
		_ = proc.Signal(syscall.SIGTERM)
		go func() {
			time.Sleep(p.spec.GracePeriod)
			_ = proc.Kill()
		}()
	})
}

func (p *pump) run(ctx context.Context, stdout io.ReadCloser) {
	defer close(p.out)

	// The scanner blocks in reads, so cancellation must kill the process
	// from the side to force EOF on the pipe.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			p.terminate()
		case <-watchDone:
		}
	}()

	cancelled, broken := p.scan(ctx, stdout)

	if cancelled {
		p.terminate()
	}
	if broken {
		// A read failure abandons the pipe mid-line. Stop the child and
		// drain what it already buffered so Wait cannot block behind a
		// full pipe.
		p.terminate()
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := p.cmd.Wait()

	diag := strings.TrimSpace(p.stderr.String())
	if diag != "" {
		p.log.Debugf("stderr from %s: %s", p.spec.Command, diag)
	}

	// Cancellation is success-path teardown, never an error record.
	if cancelled || ctx.Err() != nil {
		return
	}

	// A broken read already produced its terminal record; the exit code
	// of the process we just killed adds nothing.
	if broken {
		return
	}

	code := exitCode(waitErr)
	if code == 0 {
		return
	}

	msg := diag
	if msg == "" {
		msg = fmt.Sprintf("Process exited with code %d", code)
	}
	select {
	case p.out <- Record{Err: msg}:
	case <-ctx.Done():
	}
}

// scan reads stdout line by line, emitting one record per line.
// cancelled reports that the loop stopped because ctx was cancelled;
// broken reports a read failure (e.g. a line over MaxLineSize) that
// left the pipe abandoned mid-stream.
func (p *pump) scan(ctx context.Context, stdout io.ReadCloser) (cancelled, broken bool) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), p.spec.MaxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return true, false
		}

		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec := parseLine(line)
		select {
		case p.out <- rec:
		case <-ctx.Done():
			return true, false
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		select {
		case p.out <- Record{Err: fmt.Sprintf("Failed to read output: %v", err)}:
			return false, true
		case <-ctx.Done():
			return true, true
		}
	}
	return ctx.Err() != nil, false
}

// parseLine decodes one stdout line as a JSON object. A line that is
// not a JSON object yields a recoverable error record; the stream
// continues past it.
func parseLine(line string) Record {
	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil || data == nil {
		return Record{
			Line: line,
			Err:  "Failed to parse output: " + excerpt(line),
		}
	}
	return Record{Data: data, Line: line}
}

// excerpt truncates a line for inclusion in an error message, cutting
// on a rune boundary.
func excerpt(line string) string {
	line = strings.TrimSpace(line)
	if len(line) <= maxExcerptLen {
		return line
	}
	cut := maxExcerptLen
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut] + "..."
}

// exitCode extracts the exit code from cmd.Wait's error. nil → 0,
// non-exit errors → -1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
