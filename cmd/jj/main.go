// Command jj is a thin plumbing surface over the repository engine:
// enough to initialize a repo, snapshot and inspect the working copy,
// and read the operation log.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jj-vcs/jj-go/internal/logging"
	"github.com/jj-vcs/jj-go/internal/workspace"
)

var (
	flagVerbose   bool
	flagDirectory string
)

var rootCmd = &cobra.Command{
	Use:           "jj",
	Short:         "Content-addressed VCS repository engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug output")
	rootCmd.PersistentFlags().StringVarP(&flagDirectory, "repository", "R", ".", "path to the workspace")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(opCmd)
	rootCmd.AddCommand(sparseCmd)
	rootCmd.AddCommand(debugCmd)
}

func newLogger(ws *workspace.Workspace) *zap.Logger {
	opts := logging.Options{Verbose: flagVerbose}
	if ws != nil && ws.Settings.DebugLogFile() {
		opts.FilePath = filepath.Join(ws.Root, ".jj", "repo", "jj.log")
	}
	return logging.New(opts)
}

// loadWorkspace finds the enclosing workspace and opens it.
func loadWorkspace() (*workspace.Workspace, error) {
	root, err := workspace.FindRoot(flagDirectory)
	if err != nil {
		return nil, err
	}
	ws, err := workspace.Load(root, logging.New(logging.Options{Verbose: flagVerbose}))
	if err != nil {
		return nil, err
	}
	ws.Logger = newLogger(ws)
	return ws, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
