package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marcus/switchboard/internal/protocol"
	"github.com/marcus/switchboard/internal/provider"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List backends and the models they serve",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		reg := provider.Default()

		if asJSON {
			grouped := make(map[string][]protocol.ModelDescriptor)
			for _, name := range reg.Names() {
				if p, ok := reg.Get(name); ok {
					grouped[name] = p.Models()
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(grouped)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BACKEND\tMODEL\tNAME\tEFFORT")
		for _, name := range reg.Names() {
			p, ok := reg.Get(name)
			if !ok {
				continue
			}
			for _, m := range p.Models() {
				effort := ""
				if m.SupportsReasoningEffort {
					effort = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, m.ID, m.Name, effort)
			}
		}
		return w.Flush()
	},
}

func init() {
	modelsCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(modelsCmd)
}
