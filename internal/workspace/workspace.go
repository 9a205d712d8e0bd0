// Package workspace ties a working copy to a repository: on-disk layout
// discovery, initialization, and the snapshot/checkout glue commands use.
package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/config"
	"github.com/jj-vcs/jj-go/internal/conflicts"
	"github.com/jj-vcs/jj-go/internal/fsmonitor"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/repo"
	"github.com/jj-vcs/jj-go/internal/signing"
	"github.com/jj-vcs/jj-go/internal/tree"
	"github.com/jj-vcs/jj-go/internal/view"
	"github.com/jj-vcs/jj-go/internal/workingcopy"
	"go.uber.org/zap"
)

// ErrNotInWorkspace is returned when no enclosing .jj directory exists.
var ErrNotInWorkspace = errors.New("there is no jj repo in the current directory or any parent")

// FindRoot walks upward from dir until a directory containing .jj is
// found.
func FindRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		info, err := os.Stat(filepath.Join(dir, ".jj"))
		if err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotInWorkspace
		}
		dir = parent
	}
}

// Workspace is a loaded workspace: the repo loader plus this checkout's
// working copy.
type Workspace struct {
	Root     string
	Name     view.WorkspaceName
	Loader   *repo.Loader
	Settings *config.Settings
	Logger   *zap.Logger

	wcOpts workingcopy.Options
}

func repoDir(root string) string { return filepath.Join(root, ".jj", "repo") }

func wcDir(root string) string { return filepath.Join(root, ".jj", "working_copy") }

func signerFor(settings *config.Settings) (signing.Signer, error) {
	switch settings.SigningBackend() {
	case "ssh":
		return signing.NewSSHSigner(settings.SigningKey())
	default:
		return signing.None(), nil
	}
}

func repoOptions(settings *config.Settings, logger *zap.Logger) repo.Options {
	return repo.Options{
		Username:    settings.OperationUsername(),
		Hostname:    settings.OperationHostname(),
		SignCommits: settings.SigningBackend() != "none",
		Logger:      logger,
	}
}

func markerStyle(settings *config.Settings) conflicts.Style {
	if settings.ConflictMarkerStyle() == "git" {
		return conflicts.StyleGit
	}
	return conflicts.StyleDiff
}

// Init creates a new repository and workspace at root.
func Init(ctx context.Context, root string, logger *zap.Logger) (*Workspace, error) {
	settings, err := config.Load("")
	if err != nil {
		return nil, err
	}
	signer, err := signerFor(settings)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(root, ".jj"), 0o755); err != nil {
		return nil, &backend.IOError{Op: "create", Path: filepath.Join(root, ".jj"), Err: err}
	}
	r, err := repo.Init(ctx, repoDir(root), signer, repoOptions(settings, logger))
	if err != nil {
		return nil, err
	}
	if err := config.InitSecureRepoConfig(repoDir(root)); err != nil {
		return nil, err
	}

	wcCommit, _ := r.View().GetWCCommitID(view.DefaultWorkspaceName)
	commit, err := r.Store().GetCommit(ctx, wcCommit)
	if err != nil {
		return nil, err
	}
	_, err = workingcopy.Init(r.Store(), root, wcDir(root), view.DefaultWorkspaceName,
		r.OpID(), wcCommit, commit.RootTree, workingcopy.Options{})
	if err != nil {
		return nil, err
	}
	return Load(root, logger)
}

// Load opens the workspace at root.
func Load(root string, logger *zap.Logger) (*Workspace, error) {
	settings, err := config.Load(repoDir(root))
	if err != nil {
		return nil, err
	}
	if settings.RepoConfigWarning != nil && logger != nil {
		logger.Warn("ignoring repo config", zap.Error(settings.RepoConfigWarning))
	}
	signer, err := signerFor(settings)
	if err != nil {
		return nil, err
	}
	loader, err := repo.NewLoader(repoDir(root), signer, repoOptions(settings, logger))
	if err != nil {
		return nil, err
	}

	ws := &Workspace{
		Root:     root,
		Name:     view.DefaultWorkspaceName,
		Loader:   loader,
		Settings: settings,
		Logger:   logger,
	}
	ws.wcOpts = workingcopy.Options{
		MaxNewFileSize:       settings.MaxNewFileSize(),
		AutoTrack:            settings.AutoTrack(),
		RespectExecutableBit: settings.RespectExecutableBit(),
		MarkerStyle:          markerStyle(settings),
		Logger:               logger,
	}
	if settings.Fsmonitor() == string(fsmonitor.KindWatchman) {
		monitor, err := fsmonitor.NewWatchman(root)
		if err != nil {
			if logger != nil {
				logger.Warn("watchman unavailable, falling back to walking", zap.Error(err))
			}
		} else {
			ws.wcOpts.Monitor = monitor
		}
	}
	return ws, nil
}

// WorkingCopy opens this workspace's working copy.
func (ws *Workspace) WorkingCopy() *workingcopy.WorkingCopy {
	return workingcopy.Load(ws.Loader.Store(), ws.Root, wcDir(ws.Root), ws.wcOpts)
}

// Snapshot records working-copy changes as a new operation: the working
// copy is snapshotted, the workspace's commit is rewritten to the new
// tree when it changed, and descendants are rebased.
func (ws *Workspace) Snapshot(ctx context.Context) (*repo.ReadonlyRepo, error) {
	r, err := ws.Loader.LoadAtHead(ctx)
	if err != nil {
		return nil, err
	}
	wc := ws.WorkingCopy()
	if err := wc.CheckStale(r.OpID()); err != nil {
		var stale *backend.StaleWorkingCopyError
		if !errors.As(err, &stale) {
			return nil, err
		}
		// Recover automatically: repoint the working copy at the current
		// op without touching files, then snapshot as usual.
		wcCommit, ok := r.View().GetWCCommitID(ws.Name)
		if !ok {
			return nil, err
		}
		commit, cerr := r.Store().GetCommit(ctx, wcCommit)
		if cerr != nil {
			return nil, cerr
		}
		if rerr := wc.ResetTo(ctx, r.OpID(), wcCommit, commit.RootTree); rerr != nil {
			return nil, rerr
		}
	}

	newTreeID, _, err := wc.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	wcCommit, ok := r.View().GetWCCommitID(ws.Name)
	if !ok {
		return nil, &backend.NotFoundError{Kind: "workspace", ID: string(ws.Name)}
	}
	commit, err := r.Store().GetCommit(ctx, wcCommit)
	if err != nil {
		return nil, err
	}
	if merge.Equal(commit.RootTree, newTreeID) {
		return r, nil
	}

	tx := r.StartTransaction()
	ref, err := tx.Mutable().RewriteCommit(wcCommit, commit).SetTree(newTreeID).Write(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Mutable().RebaseDescendants(ctx); err != nil {
		return nil, err
	}
	newRepo, err := tx.Commit(ctx, "snapshot working copy")
	if err != nil {
		return nil, err
	}
	// Record the op the working copy now corresponds to; file states are
	// already current from the snapshot.
	if err := wc.RecordOperation(newRepo.OpID(), ref.ID); err != nil {
		return nil, err
	}
	return newRepo, nil
}

// Checkout updates the working copy to the given commit and records an
// operation.
func (ws *Workspace) Checkout(ctx context.Context, commitID backend.CommitID, description string) (workingcopy.CheckoutStats, error) {
	r, err := ws.Loader.LoadAtHead(ctx)
	if err != nil {
		return workingcopy.CheckoutStats{}, err
	}
	commit, err := r.Store().GetCommit(ctx, commitID)
	if err != nil {
		return workingcopy.CheckoutStats{}, err
	}
	if description == "" {
		description = "check out commit " + commitID.Hex()
	}
	tx := r.StartTransaction()
	tx.Mutable().SetWCCommit(ws.Name, commitID)
	newRepo, err := tx.Commit(ctx, description)
	if err != nil {
		return workingcopy.CheckoutStats{}, err
	}

	mt, err := tree.Root(ctx, newRepo.Store(), commit.RootTree)
	if err != nil {
		return workingcopy.CheckoutStats{}, err
	}
	return ws.WorkingCopy().Checkout(ctx, newRepo.OpID(), commitID, mt)
}
