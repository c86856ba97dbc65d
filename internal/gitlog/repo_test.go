package gitlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRepo struct {
	t    *testing.T
	dir  string
	repo *git.Repository
	n    int
}

func initRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return &testRepo{t: t, dir: dir, repo: repo}
}

func (r *testRepo) commit(msg string) plumbing.Hash {
	r.t.Helper()
	r.n++
	name := fmt.Sprintf("file-%d.txt", r.n)
	require.NoError(r.t, os.WriteFile(filepath.Join(r.dir, name), []byte(msg), 0o644))

	wt, err := r.repo.Worktree()
	require.NoError(r.t, err)
	_, err = wt.Add(name)
	require.NoError(r.t, err)
	h, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(r.t, err)
	return h
}

func TestOpen_NotRepository(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotRepository))
}

func TestHead_Unborn(t *testing.T) {
	tr := initRepo(t)
	r, err := Open(tr.dir)
	require.NoError(t, err)

	head, err := r.Head()
	require.NoError(t, err)
	assert.Empty(t, head)

	n, err := r.CountSince("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCountSince(t *testing.T) {
	tr := initRepo(t)
	tr.commit("initial")

	r, err := Open(tr.dir)
	require.NoError(t, err)
	base, err := r.Head()
	require.NoError(t, err)
	require.NotEmpty(t, base)

	n, err := r.CountSince(base)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no new commits")

	tr.commit("one")
	tr.commit("two")
	tr.commit("three")

	n, err = r.CountSince(base)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = r.CountSince("")
	require.NoError(t, err)
	assert.Equal(t, 4, n, "empty base counts all history")
}

func TestCountSince_FromSubdirectory(t *testing.T) {
	tr := initRepo(t)
	tr.commit("initial")
	sub := filepath.Join(tr.dir, "nested", "dir")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	r, err := Open(sub)
	require.NoError(t, err)
	base, err := r.Head()
	require.NoError(t, err)

	tr.commit("more")
	n, err := r.CountSince(base)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountSince_MergeOfOldBranch(t *testing.T) {
	tr := initRepo(t)
	tr.commit("a")
	forkPoint := tr.commit("b")
	tr.commit("c")
	tr.commit("d")
	base := tr.commit("e")

	head, err := tr.repo.Head()
	require.NoError(t, err)
	mainBranch := head.Name()
	side := plumbing.NewBranchReferenceName("side")
	require.NoError(t, tr.repo.Storer.SetReference(plumbing.NewHashReference(side, forkPoint)))

	r, err := Open(tr.dir)
	require.NoError(t, err)

	// The session commits on the old branch and merges it back.
	wt, err := tr.repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: side}))
	sideTip := tr.commit("s")
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: mainBranch}))
	_, err = wt.Commit("merge side", &git.CommitOptions{
		Author:            &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
		Parents:           []plumbing.Hash{base, sideTip},
		AllowEmptyCommits: true,
	})
	require.NoError(t, err)

	n, err := r.CountSince(base.String())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "only the side commit and the merge are new")
}

func TestCountSince_Reset(t *testing.T) {
	tr := initRepo(t)
	first := tr.commit("initial")
	tr.commit("second")

	r, err := Open(tr.dir)
	require.NoError(t, err)
	base, err := r.Head()
	require.NoError(t, err)

	wt, err := tr.repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Reset(&git.ResetOptions{Commit: first, Mode: git.HardReset}))

	n, err := r.CountSince(base)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPush_NoRemote(t *testing.T) {
	tr := initRepo(t)
	tr.commit("initial")
	r, err := Open(tr.dir)
	require.NoError(t, err)

	err = r.Push(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "origin")
}

func TestParseReflogLine(t *testing.T) {
	line := "0000000000000000000000000000000000000000 3f1c2a9b8e7d6c5b4a39281706f5e4d3c2b1a098 Jane Doe <jane@example.com> 1700000000 +0000\tcommit (initial): first"
	ev, ok := parseReflogLine(line)
	require.True(t, ok)
	assert.Equal(t, "3f1c2a9b8e7d6c5b4a39281706f5e4d3c2b1a098", ev.Hash)
	assert.Equal(t, "commit (initial): first", ev.Summary)
	assert.Equal(t, int64(1700000000), ev.Timestamp.Unix())

	_, ok = parseReflogLine("garbage")
	assert.False(t, ok)
}

func TestWatcher_EmitsCommits(t *testing.T) {
	tr := initRepo(t)
	tr.commit("initial")

	r, err := Open(tr.dir)
	require.NoError(t, err)
	gitDir, err := r.GitDir()
	require.NoError(t, err)

	logsDir := filepath.Join(gitDir, "logs")
	require.NoError(t, os.MkdirAll(logsDir, 0o755))
	headLog := filepath.Join(logsDir, "HEAD")
	require.NoError(t, os.WriteFile(headLog, nil, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := r.Watch(ctx)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	appendLine := func(line string) {
		f, err := os.OpenFile(headLog, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString(line + "\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	appendLine("aaaa bbbb t <t@example.com> 1700000000 +0000\tcheckout: moving from a to b")
	appendLine("bbbb cccc t <t@example.com> 1700000001 +0000\tcommit: add feature")

	select {
	case ev := <-w.Events():
		assert.Equal(t, "cccc", ev.Hash)
		assert.Equal(t, "commit: add feature", ev.Summary)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for commit event")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-w.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
