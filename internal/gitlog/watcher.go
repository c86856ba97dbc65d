package gitlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CommitEvent is emitted when HEAD's reflog gains a commit entry.
type CommitEvent struct {
	Hash      string
	Summary   string // reflog message, e.g. "commit: fix parser"
	Timestamp time.Time
}

// Watcher streams commit events by watching .git/logs/HEAD.
type Watcher struct {
	gitDir   string
	watcher  *fsnotify.Watcher
	events   chan CommitEvent
	lastHash string

	stopOnce sync.Once
	done     chan struct{}
}

// Watch starts a Watcher for the repository. Events stop when ctx is done or
// Close is called.
func (r *Repo) Watch(ctx context.Context) (*Watcher, error) {
	gitDir, err := r.GitDir()
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}

	w := &Watcher{
		gitDir:  gitDir,
		watcher: fw,
		events:  make(chan CommitEvent, 16),
		done:    make(chan struct{}),
	}
	w.lastHash, _ = w.readLast()

	// logs/ may not exist until the first commit; watch .git for its creation.
	if err := fw.Add(gitDir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", gitDir, err)
	}
	logsDir := filepath.Join(gitDir, "logs")
	if _, err := os.Stat(logsDir); err == nil {
		_ = fw.Add(logsDir)
	}

	go w.loop(ctx)
	return w, nil
}

// Events returns the channel of commit events. It is closed when the watcher
// stops.
func (w *Watcher) Events() <-chan CommitEvent {
	return w.events
}

// Close stops the watcher and waits for the event channel to close.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		err = w.watcher.Close()
	})
	<-w.done
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)
	defer w.stopOnce.Do(func() { _ = w.watcher.Close() })

	logsDir := filepath.Join(w.gitDir, "logs")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Name == logsDir && ev.Op&fsnotify.Create != 0 {
				_ = w.watcher.Add(logsDir)
				continue
			}
			if !strings.HasSuffix(filepath.ToSlash(ev.Name), "logs/HEAD") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.emitIfNew(ctx)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) emitIfNew(ctx context.Context) {
	line, err := w.readLast()
	if err != nil || line == "" {
		return
	}
	ev, ok := parseReflogLine(line)
	if !ok || ev.Hash == w.lastHash {
		return
	}
	w.lastHash = ev.Hash
	if !strings.HasPrefix(ev.Summary, "commit") {
		// checkout, reset and rebase moves are not new commits
		return
	}
	select {
	case w.events <- ev:
	case <-ctx.Done():
	default:
		// consumer is behind; drop rather than block the watcher
	}
}

// readLast returns the last non-empty line of logs/HEAD.
func (w *Watcher) readLast() (string, error) {
	data, err := os.ReadFile(filepath.Join(w.gitDir, "logs", "HEAD"))
	if err != nil {
		return "", err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "", nil
	}
	if i := strings.LastIndexByte(trimmed, '\n'); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	return trimmed, nil
}

// parseReflogLine parses "<old> <new> <name> <email> <unix> <tz>\t<message>".
func parseReflogLine(line string) (CommitEvent, bool) {
	head, msg, _ := strings.Cut(line, "\t")
	fields := strings.Fields(head)
	if len(fields) < 2 {
		return CommitEvent{}, false
	}
	ev := CommitEvent{Hash: fields[1], Summary: strings.TrimSpace(msg), Timestamp: time.Now()}
	var unix int64
	if _, err := fmt.Sscanf(fields[len(fields)-2], "%d", &unix); err == nil && unix > 0 {
		ev.Timestamp = time.Unix(unix, 0)
	}
	return ev, true
}
