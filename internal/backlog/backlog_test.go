package backlog

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBacklog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "TODO.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse_Markers(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		hasTodos bool
		next     string
		pending  int
		done     int
	}{
		{name: "empty", doc: "", hasTodos: false},
		{name: "prose only", doc: "# Tasks\n\nNothing here yet.\n", hasTodos: false},
		{name: "all done", doc: "- [x] A\n- [X] B\n", hasTodos: false, done: 2},
		{name: "first pending wins", doc: "- [x] A\n- [ ] B\n- [ ] C\n", hasTodos: true, next: "B", pending: 2, done: 1},
		{name: "indented and starred", doc: "intro\n  * [ ] nested thing\n", hasTodos: true, next: "nested thing", pending: 1},
		{name: "plus bullet", doc: "+ [ ] plus\n", hasTodos: true, next: "plus", pending: 1},
		{name: "crlf", doc: "- [x] A\r\n- [ ] B\r\n", hasTodos: true, next: "B", pending: 1, done: 1},
		{name: "bare marker", doc: "- [ ]\n", hasTodos: true, next: "", pending: 1},
		{name: "not a checklist", doc: "- [] nope\n-[ ] nope\n[ ] nope\n- [y] nope\n", hasTodos: false},
		{name: "fenced example still counts", doc: "```\n- [ ] inside fence\n```\n", hasTodos: true, next: "inside fence", pending: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := Parse("TODO.md", []byte(tc.doc))
			assert.Equal(t, tc.hasTodos, snap.HasTodos())
			assert.Equal(t, tc.next, snap.NextTodo())
			assert.Equal(t, tc.pending, snap.Pending())
			assert.Equal(t, tc.done, snap.Done())
		})
	}
}

func TestParse_LineNumbersAndSections(t *testing.T) {
	doc := `# Backlog

Some notes about the work.

## Import

- [x] load players
- [ ] load contracts

## UI
Setext Title
------------

- [ ] team page

` + "```md\n# not a heading\n```\n" + `
- [ ] after fence
`
	snap := Parse("TODO.md", []byte(doc))
	require.Len(t, snap.Items, 4)

	assert.Equal(t, Item{Line: 7, Text: "load players", Done: true, Section: "Import"}, snap.Items[0])
	assert.Equal(t, Item{Line: 8, Text: "load contracts", Section: "Import"}, snap.Items[1])
	assert.Equal(t, Item{Line: 14, Text: "team page", Section: "Setext Title"}, snap.Items[2])
	assert.Equal(t, "Setext Title", snap.Items[3].Section)

	next, ok := snap.Next()
	require.True(t, ok)
	assert.Equal(t, 8, next.Line)
}

func TestLoad_Idempotent(t *testing.T) {
	path := writeBacklog(t, "- [x] A\n- [ ] B\n- [ ] C\n")

	first, err := Load(path)
	require.NoError(t, err)
	second, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLoad_ReflectsExternalEdit(t *testing.T) {
	path := writeBacklog(t, "- [x] A\n- [ ] B\n- [ ] C\n")

	snap, err := Load(path)
	require.NoError(t, err)
	assert.True(t, snap.HasTodos())
	assert.Equal(t, "B", snap.NextTodo())

	// A session completes B and commits.
	require.NoError(t, os.WriteFile(path, []byte("- [x] A\n- [x] B\n- [ ] C\n"), 0o644))

	snap2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "C", snap2.NextTodo())
	assert.NotEqual(t, snap.Digest, snap2.Digest)
}

func TestLoad_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.md")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	snap, err := Load(path, AllowMissing())
	require.NoError(t, err)
	assert.False(t, snap.HasTodos())
	assert.Empty(t, snap.Items)
}

func TestLoad_Unreadable(t *testing.T) {
	// A directory cannot be read as a file.
	_, err := Load(t.TempDir(), AllowMissing())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}
