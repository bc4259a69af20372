package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/xflow/internal/config"
	"github.com/Iron-Ham/xflow/internal/node"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a new xflow project",
	Long: `Create a starter env.yml and config.yaml in dir (default: the project
directory). The directory is created when missing and must be empty.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// envTemplate is the starter env.yml. It defines one local node so a fresh
// project can run pipelines without any remote host.
const envTemplate = `# Local directory holding task ids, run logs and downloaded files.
# Relative paths are resolved against this file's directory.
workdir: .xflow

nodes:
  - name: local
    type: local
    workdir: /tmp/xflow
    labels: [local]

  # An SSH node. Use password or keyfile.
  # - name: build1
  #   ip: 192.168.1.10
  #   sshport: 22
  #   user: builder
  #   password: secret
  #   workdir: /home/builder/xflow
  #   labels: [build]
  #   envs:
  #     PYTHONUNBUFFERED: 1

  # A container created from an image on a Docker daemon and removed after
  # a successful run. Use container: <name> to bind an existing one instead.
  # - name: py39
  #   ip: 192.168.1.20
  #   dockerport: 2375
  #   image: python:3.9
  #   workdir: /root/xflow
  #   labels: [build]
`

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		if dir, err = filepath.Abs(args[0]); err != nil {
			return fmt.Errorf("failed to resolve directory: %w", err)
		}
	}

	entries, err := os.ReadDir(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create project directory: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read project directory: %w", err)
	case len(entries) > 0:
		return fmt.Errorf("project directory %s is not empty", dir)
	}

	files := []struct {
		name    string
		content string
	}{
		{node.FileName, envTemplate},
		{config.FileName, config.Template},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized xflow project in %s\n", dir)
	fmt.Fprintf(out, "Edit %s to describe your nodes, then run 'xflow list'.\n", node.FileName)
	return nil
}
