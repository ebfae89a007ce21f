package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcus/switchboard/internal/history"
	"github.com/marcus/switchboard/internal/logging"
	"github.com/marcus/switchboard/internal/protocol"
	"github.com/marcus/switchboard/internal/provider"
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run one query through the routed backend",
	Long: `Run a prompt through the backend serving the chosen model and
stream the normalized output. The prompt is read from the argument,
or from stdin when omitted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuery,
}

func init() {
	runCmd.Flags().StringP("model", "m", "", "Model identifier (routes to a backend)")
	runCmd.Flags().StringP("backend", "b", "", "Backend name (bypasses model routing)")
	runCmd.Flags().StringP("workdir", "C", "", "Working directory for the invocation")
	runCmd.Flags().String("system-prompt", "", "System prompt override")
	runCmd.Flags().StringSlice("allowed-tools", nil, "Tool allow-list (empty value means no tools)")
	runCmd.Flags().Bool("no-tools", false, "Request a tool-free run")
	runCmd.Flags().Int("max-turns", 0, "Agent turn cap (0 = configured default)")
	runCmd.Flags().String("schema", "", "Path to a JSON schema constraining the final output")
	runCmd.Flags().Bool("no-history", false, "Skip transcript recording")
	runCmd.Flags().Bool("show-thinking", false, "Print reasoning blocks")
	rootCmd.AddCommand(runCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	prompt, err := resolvePrompt(args)
	if err != nil {
		return err
	}

	model, _ := cmd.Flags().GetString("model")
	backend, _ := cmd.Flags().GetString("backend")

	prov, err := pickProvider(model, backend)
	if err != nil {
		return err
	}

	req, err := buildRequest(cmd, prompt, model)
	if err != nil {
		return err
	}

	recorder, err := openRecorder(cmd, prov.Name(), req)
	if err != nil {
		return err
	}
	defer recorder.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := prov.ExecuteQuery(ctx, req)
	if err != nil {
		recorder.finish(history.StatusFailed, err.Error())
		return err
	}

	showThinking, _ := cmd.Flags().GetBool("show-thinking")
	out := newRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), showThinking)

	var lastErr *protocol.ErrorInfo
	for msg := range ch {
		recorder.append(msg)
		out.render(msg)
		if msg.Type == protocol.MessageError {
			lastErr = msg.Error
		}
	}

	switch {
	case ctx.Err() != nil:
		recorder.finish(history.StatusCancelled, "")
		return nil
	case lastErr != nil:
		recorder.finish(history.StatusFailed, lastErr.Message)
		return errors.New(lastErr.Message)
	default:
		recorder.finish(history.StatusCompleted, "")
		return nil
	}
}

// resolvePrompt takes the prompt from the argument or stdin.
func resolvePrompt(args []string) (string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("no prompt given (pass an argument or pipe stdin)")
	}
	return prompt, nil
}

// pickProvider routes on model unless a backend is named explicitly.
func pickProvider(model, backend string) (provider.Provider, error) {
	if backend != "" {
		p, ok := provider.Default().Get(backend)
		if !ok {
			return nil, fmt.Errorf("unknown backend %q (available: %s)",
				backend, strings.Join(provider.Default().Names(), ", "))
		}
		return p, nil
	}
	return provider.Resolve(model)
}

func buildRequest(cmd *cobra.Command, prompt, model string) (provider.Request, error) {
	workDir, _ := cmd.Flags().GetString("workdir")
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return provider.Request{}, fmt.Errorf("resolving workdir: %w", err)
	}

	systemPrompt, _ := cmd.Flags().GetString("system-prompt")
	maxTurns, _ := cmd.Flags().GetInt("max-turns")

	var allowedTools []string
	if noTools, _ := cmd.Flags().GetBool("no-tools"); noTools {
		allowedTools = []string{}
	} else if cmd.Flags().Changed("allowed-tools") {
		allowedTools, _ = cmd.Flags().GetStringSlice("allowed-tools")
		if allowedTools == nil {
			allowedTools = []string{}
		}
	}

	var schema json.RawMessage
	if schemaPath, _ := cmd.Flags().GetString("schema"); schemaPath != "" {
		data, err := os.ReadFile(schemaPath)
		if err != nil {
			return provider.Request{}, fmt.Errorf("reading schema: %w", err)
		}
		schema = data
	}

	return provider.Request{
		Prompt:       prompt,
		Model:        model,
		WorkDir:      workDir,
		SystemPrompt: systemPrompt,
		AllowedTools: allowedTools,
		MaxTurns:     maxTurns,
		OutputSchema: schema,
	}, nil
}

// recorder persists the transcript unless recording is disabled or the
// database is unavailable; failures degrade to logging, never to
// blocking the query.
type recorder struct {
	db  *history.DB
	id  string
	seq int
	log *logging.Logger
}

func openRecorder(cmd *cobra.Command, backend string, req provider.Request) (*recorder, error) {
	r := &recorder{log: logging.Component("history")}
	if skip, _ := cmd.Flags().GetBool("no-history"); skip {
		return r, nil
	}

	db, err := history.Open("")
	if err != nil {
		r.log.Warnf("transcript recording disabled: %v", err)
		return r, nil
	}
	id, err := db.Begin(backend, req.Model, req.WorkDir, req.PromptText())
	if err != nil {
		_ = db.Close()
		r.log.Warnf("transcript recording disabled: %v", err)
		return r, nil
	}
	r.db = db
	r.id = id
	return r, nil
}

func (r *recorder) append(msg protocol.Message) {
	if r.db == nil {
		return
	}
	if err := r.db.Append(r.id, r.seq, msg); err != nil {
		r.log.Warnf("recording message: %v", err)
	}
	r.seq++
}

func (r *recorder) finish(status, errText string) {
	if r.db == nil {
		return
	}
	if err := r.db.Finish(r.id, status, errText); err != nil {
		r.log.Warnf("finishing transcript: %v", err)
	}
}

func (r *recorder) close() {
	if r.db != nil {
		_ = r.db.Close()
	}
}
