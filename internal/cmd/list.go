package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/xflow/internal/pipeline"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered pipelines",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	defs := pipeline.Definitions()
	if len(defs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pipelines registered")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PIPELINE\tNODES\tSTAGES\tDESCRIPTION")
	for _, def := range defs {
		stages := make([]string, len(def.Stages))
		for i, st := range def.Stages {
			stages[i] = st.Name
		}
		nodes := "-"
		if !def.Nodes.IsZero() {
			nodes = def.Nodes.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.Name, nodes, strings.Join(stages, ","), def.Description)
	}
	return w.Flush()
}
