// Package backlog parses checklist-style task documents.
//
// A backlog is a markdown file whose actionable lines are checklist items:
//
//	- [ ] pending task
//	- [x] completed task
//
// Everything else (headings, prose, reference sections) is ignored except
// that headings are recorded as the Section of the items beneath them.
// Document order is priority order. The package never writes the file.
package backlog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
)

// ErrNotFound is returned by Load when the backlog file does not exist and
// AllowMissing was not requested.
var ErrNotFound = errors.New("backlog not found")

var (
	pendingLine = regexp.MustCompile(`^\s*[-*+]\s+\[ \](?:\s+(.*))?$`)
	doneLine    = regexp.MustCompile(`^\s*[-*+]\s+\[[xX]\](?:\s+(.*))?$`)
)

// Item is a single checklist line.
type Item struct {
	Line    int    // 1-based line number in the document
	Text    string // item text without the checklist marker
	Done    bool
	Section string // nearest preceding heading, empty if none
}

// Snapshot is the parsed state of a backlog at one point in time.
type Snapshot struct {
	Path   string
	Items  []Item
	Digest string // sha256 of the raw file contents
}

// HasTodos reports whether at least one unchecked item exists.
func (s *Snapshot) HasTodos() bool {
	_, ok := s.Next()
	return ok
}

// Next returns the first unchecked item in document order.
func (s *Snapshot) Next() (Item, bool) {
	for _, it := range s.Items {
		if !it.Done {
			return it, true
		}
	}
	return Item{}, false
}

// NextTodo returns the text of the first unchecked item, or "" when none.
func (s *Snapshot) NextTodo() string {
	it, _ := s.Next()
	return it.Text
}

// Pending returns the number of unchecked items.
func (s *Snapshot) Pending() int {
	n := 0
	for _, it := range s.Items {
		if !it.Done {
			n++
		}
	}
	return n
}

// Done returns the number of checked items.
func (s *Snapshot) Done() int {
	return len(s.Items) - s.Pending()
}

type loadOptions struct {
	allowMissing bool
}

// Option configures Load.
type Option func(*loadOptions)

// AllowMissing makes Load return an empty snapshot instead of ErrNotFound
// when the file does not exist.
func AllowMissing() Option {
	return func(o *loadOptions) { o.allowMissing = true }
}

// Load reads and parses the backlog at path.
func Load(path string, opts ...Option) (*Snapshot, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if o.allowMissing {
				return Parse(path, nil), nil
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
		}
		return nil, fmt.Errorf("reading backlog %s: %w", path, err)
	}
	return Parse(path, data), nil
}

// Parse parses backlog contents. path is recorded on the snapshot only.
func Parse(path string, data []byte) *Snapshot {
	sum := sha256.Sum256(data)
	snap := &Snapshot{
		Path:   path,
		Items:  []Item{},
		Digest: hex.EncodeToString(sum[:]),
	}

	headings := headingIndex(data)

	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		lineNo := i + 1

		var (
			m    []string
			done bool
		)
		if m = pendingLine.FindStringSubmatch(line); m == nil {
			if m = doneLine.FindStringSubmatch(line); m == nil {
				continue
			}
			done = true
		}

		snap.Items = append(snap.Items, Item{
			Line:    lineNo,
			Text:    strings.TrimSpace(m[1]),
			Done:    done,
			Section: headings.sectionAt(lineNo),
		})
	}
	return snap
}
