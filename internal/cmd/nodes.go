package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the nodes of env.yml",
	Long: `List the nodes defined in the project's env.yml with their type, labels
and connection string. No connection is opened.`,
	Args: cobra.NoArgs,
	RunE: runNodes,
}

func init() {
	rootCmd.AddCommand(nodesCmd)
}

func runNodes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	projDir, err := projectDir()
	if err != nil {
		return err
	}
	env, err := loadEnvironment(projDir, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Workdir: %s\n\n", env.Workdir())
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tTYPE\tLABELS\tWORKDIR\tCONNECTION")
	for _, n := range env.Nodes() {
		labels := strings.Join(n.Labels(), ",")
		if labels == "" {
			labels = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.Name(), n.Kind(), labels, n.Workdir(), n.String())
	}
	return w.Flush()
}
