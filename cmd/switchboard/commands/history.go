package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/switchboard/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history [invocation-id]",
	Short: "List recorded invocations or replay one transcript",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := history.Open("")
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if len(args) == 1 {
			return replayTranscript(cmd, db, args[0])
		}

		limit, _ := cmd.Flags().GetInt("limit")
		return listInvocations(cmd, db, limit)
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Number of invocations to list")
	rootCmd.AddCommand(historyCmd)
}

func listInvocations(cmd *cobra.Command, db *history.DB, limit int) error {
	invocations, err := db.Recent(limit)
	if err != nil {
		return err
	}
	if len(invocations) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No recorded invocations.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBACKEND\tMODEL\tSTARTED\tSTATUS\tPROMPT")
	for _, inv := range invocations {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(inv.ID), inv.Backend, inv.Model,
			inv.StartedAt.Local().Format(time.DateTime),
			inv.Status, truncate(inv.Prompt, 48))
	}
	return w.Flush()
}

func replayTranscript(cmd *cobra.Command, db *history.DB, id string) error {
	msgs, err := db.Messages(id)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("no transcript for invocation %q (pass the full ID)", id)
	}

	out := newRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), true)
	for _, msg := range msgs {
		out.render(msg)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens s to at most n runes for table display.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
