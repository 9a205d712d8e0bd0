package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/logging"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/oplog"
	"github.com/jj-vcs/jj-go/internal/opstore"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/tree"
	"github.com/jj-vcs/jj-go/internal/workingcopy"
	"github.com/jj-vcs/jj-go/internal/workspace"
)

var initCmd = &cobra.Command{
	Use:   "init [destination]",
	Short: "Create a new repository in the given directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := "."
		if len(args) == 1 {
			dest = args[0]
		}
		root, err := filepath.Abs(dest)
		if err != nil {
			return err
		}
		ws, err := workspace.Init(cmd.Context(), root, logging.New(logging.Options{Verbose: flagVerbose}))
		if err != nil {
			return err
		}
		fmt.Printf("Initialized repo in %q\n", ws.Root)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "st",
	Aliases: []string{"status"},
	Short:   "Snapshot the working copy and show its state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace()
		if err != nil {
			return err
		}
		r, err := ws.Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		hint := ws.Settings.CommitIDHintLength()
		wcCommit, _ := r.View().GetWCCommitID(ws.Name)
		commit, err := r.Store().GetCommit(cmd.Context(), wcCommit)
		if err != nil {
			return err
		}
		fmt.Printf("Working copy : %s %s\n", short(wcCommit.Hex(), hint), commit.Description)
		for _, parent := range commit.Parents {
			pc, err := r.Store().GetCommit(cmd.Context(), parent)
			if err != nil {
				return err
			}
			fmt.Printf("Parent commit: %s %s\n", short(parent.Hex(), hint), pc.Description)
		}
		return nil
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List files in the working-copy commit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		r, err := ws.Snapshot(ctx)
		if err != nil {
			return err
		}
		wcCommit, _ := r.View().GetWCCommitID(ws.Name)
		commit, err := r.Store().GetCommit(ctx, wcCommit)
		if err != nil {
			return err
		}
		mt, err := tree.Root(ctx, r.Store(), commit.RootTree)
		if err != nil {
			return err
		}
		return mt.Entries(ctx, repopath.Everything(), func(p repopath.RepoPath, v merge.Merge[backend.TreeValue]) error {
			marker := ""
			if !v.IsResolved() {
				marker = " (conflict)"
			}
			fmt.Printf("%s%s\n", p, marker)
			return nil
		})
	},
}

var opCmd = &cobra.Command{
	Use:   "op",
	Short: "Operation log commands",
}

var opLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the operation log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace()
		if err != nil {
			return err
		}
		r, err := ws.Loader.LoadAtHead(cmd.Context())
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		count := 0
		return oplog.Walk(ws.Loader.OpStore(), []opstore.OperationID{r.OpID()}, func(e oplog.Entry) error {
			if limit > 0 && count >= limit {
				return nil
			}
			count++
			when := time.UnixMilli(e.Op.Meta.EndTime.MillisSinceEpoch).Format(time.RFC3339)
			fmt.Printf("%s %s@%s %s\n", short(e.ID.Hex(), 12), e.Op.Meta.Username, e.Op.Meta.Hostname, when)
			fmt.Printf("  %s\n", e.Op.Meta.Description)
			return nil
		})
	},
}

var sparseCmd = &cobra.Command{
	Use:   "sparse",
	Short: "Manage which paths the working copy materializes",
}

var sparseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the current sparse patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace()
		if err != nil {
			return err
		}
		state, err := ws.WorkingCopy().State()
		if err != nil {
			return err
		}
		if len(state.SparsePatterns) == 0 {
			fmt.Println(".")
			return nil
		}
		for _, p := range state.SparsePatterns {
			fmt.Println(p)
		}
		return nil
	},
}

var sparseSetCmd = &cobra.Command{
	Use:   "set <prefix>...",
	Short: "Restrict the working copy to the given path prefixes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace()
		if err != nil {
			return err
		}
		var patterns []repopath.RepoPath
		for _, arg := range args {
			p, ok := repopath.FromFSPath(arg)
			if !ok {
				return &backend.PathNotInRepoError{Path: arg}
			}
			patterns = append(patterns, p)
		}
		stats, err := ws.WorkingCopy().SetSparsePatterns(cmd.Context(), patterns)
		if err != nil {
			return err
		}
		fmt.Printf("Added %d files, removed %d files\n", stats.Added, stats.Removed)
		return nil
	},
}

var debugCmd = &cobra.Command{
	Use:    "debug",
	Short:  "Low-level inspection commands",
	Hidden: true,
}

var debugObjectCmd = &cobra.Command{
	Use:   "object <hex-commit-id>",
	Short: "Dump a commit object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace()
		if err != nil {
			return err
		}
		id, err := backend.CommitIDFromHex(args[0])
		if err != nil {
			return err
		}
		commit, err := ws.Loader.Store().GetCommit(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("change-id:   %s\n", commit.Change.Hex())
		for _, p := range commit.Parents {
			fmt.Printf("parent:      %s\n", p.Hex())
		}
		for _, t := range commit.RootTree.Terms() {
			fmt.Printf("tree-term:   %s\n", t.Hex())
		}
		fmt.Printf("author:      %s <%s>\n", commit.Author.Name, commit.Author.Email)
		fmt.Printf("description: %s\n", commit.Description)
		return nil
	},
}

var debugWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Snapshot the working copy whenever files change",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace()
		if err != nil {
			return err
		}
		watcher, err := workingcopy.NewWatcher(ws.WorkingCopy(), 250*time.Millisecond)
		if err != nil {
			return err
		}
		fmt.Println("Watching for changes; interrupt to stop.")
		return watcher.Run(cmd.Context(), func() error {
			_, err := ws.Snapshot(cmd.Context())
			return err
		})
	},
}

var debugGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Collect unreachable operations and objects",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace()
		if err != nil {
			return err
		}
		keep, _ := cmd.Flags().GetDuration("keep-newer")
		heads, err := ws.Loader.OpHeads().Heads()
		if err != nil {
			return err
		}
		return oplog.GC(cmd.Context(), ws.Loader.OpStore(), ws.Loader.Store(), heads, time.Now().Add(-keep))
	},
}

func init() {
	opLogCmd.Flags().Int("limit", 0, "maximum number of operations to show")
	debugGCCmd.Flags().Duration("keep-newer", 14*24*time.Hour, "keep operations newer than this")
	opCmd.AddCommand(opLogCmd)
	sparseCmd.AddCommand(sparseListCmd, sparseSetCmd)
	debugCmd.AddCommand(debugObjectCmd, debugWatchCmd, debugGCCmd)
}

func short(hex string, n int) string {
	if n > 0 && len(hex) > n {
		return hex[:n]
	}
	return hex
}
