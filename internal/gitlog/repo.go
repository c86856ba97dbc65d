// Package gitlog observes commit production in a git working tree.
//
// The loop never commits; it only needs to know how many commits a session
// produced. Repo records HEAD before a session and counts the commits that
// became reachable afterwards. Watcher streams commit events while a session
// is still running.
package gitlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// ErrNotRepository is returned when the directory is not inside a git
// working tree.
var ErrNotRepository = errors.New("not a git repository")

// Repo is a git working tree. The repository is reopened on every call so
// that objects and refs written by another process are always visible.
type Repo struct {
	dir string
}

// Open returns a Repo for the working tree containing dir.
func Open(dir string) (*Repo, error) {
	r := &Repo{dir: dir}
	if _, err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the directory the repo was opened with.
func (r *Repo) Dir() string {
	return r.dir
}

func (r *Repo) open() (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(r.dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, r.dir)
		}
		return nil, fmt.Errorf("opening repository %s: %w", r.dir, err)
	}
	return repo, nil
}

// Head returns the commit hash HEAD points at, or "" when the branch has no
// commits yet.
func (r *Repo) Head() (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// CountSince returns the number of commits reachable from the current HEAD
// that were not reachable from base. An empty base counts every commit.
// When HEAD moved backwards (reset) the result is zero.
func (r *Repo) CountSince(base string) (int, error) {
	repo, err := r.open()
	if err != nil {
		return 0, err
	}
	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("resolving HEAD: %w", err)
	}
	if ref.Hash().String() == base {
		return 0, nil
	}

	head, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return 0, fmt.Errorf("loading HEAD commit: %w", err)
	}

	seen, err := ancestors(repo, base)
	if err != nil {
		return 0, err
	}

	n := 0
	iter := object.NewCommitPreorderIter(head, seen, nil)
	defer iter.Close()
	err = iter.ForEach(func(*object.Commit) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking commits: %w", err)
	}
	return n, nil
}

// ancestors returns base and every commit reachable from it. Merged side
// branches that forked below base are part of this set, so they are never
// counted as new.
func ancestors(repo *git.Repository, base string) (map[plumbing.Hash]bool, error) {
	seen := map[plumbing.Hash]bool{}
	if base == "" {
		return seen, nil
	}
	c, err := repo.CommitObject(plumbing.NewHash(base))
	if err != nil {
		return nil, fmt.Errorf("loading base commit %s: %w", base, err)
	}
	iter := object.NewCommitPreorderIter(c, nil, nil)
	defer iter.Close()
	err = iter.ForEach(func(c *object.Commit) error {
		seen[c.Hash] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking history of %s: %w", base, err)
	}
	return seen, nil
}

// GitDir returns the path of the repository's .git directory.
func (r *Repo) GitDir() (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", err
	}
	fs, ok := repo.Storer.(*filesystem.Storage)
	if !ok {
		return "", fmt.Errorf("repository %s is not stored on disk", r.dir)
	}
	return fs.Filesystem().Root(), nil
}

// Push pushes the current branch to remote. An up-to-date remote is not an
// error.
func (r *Repo) Push(ctx context.Context, remote string) error {
	repo, err := r.open()
	if err != nil {
		return err
	}
	if remote == "" {
		remote = git.DefaultRemoteName
	}
	err = repo.PushContext(ctx, &git.PushOptions{RemoteName: remote})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("git push %s: %w", remote, err)
	}
	return nil
}
