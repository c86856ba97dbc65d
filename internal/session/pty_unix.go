//go:build unix

package session

import (
	"io"
	"os/exec"
	"time"

	"github.com/creack/pty"
)

// ptySize is the terminal size reported to providers that insist on a TTY.
var ptySize = &pty.Winsize{Rows: 50, Cols: 200}

// runPTY runs cmd attached to a pseudo-terminal and copies its output to
// stdout. Stdout and stderr share the terminal, so no stderr tail is kept.
func runPTY(cmd *exec.Cmd, stdout io.Writer, grace time.Duration) outcome {
	cmd.Cancel = func() error { return signalGroup(cmd, sigTerm) }
	cmd.WaitDelay = grace

	f, err := pty.StartWithAttrs(cmd, ptySize, sessionAttrs())
	if err != nil {
		return exitOutcome(err, "")
	}

	copied := make(chan struct{})
	go func() {
		defer close(copied)
		// Returns EIO once every holder of the slave side has exited.
		_, _ = io.Copy(stdout, f)
	}()

	err = cmd.Wait()
	_ = signalGroup(cmd, sigKill)

	select {
	case <-copied:
	case <-time.After(time.Second):
	}
	_ = f.Close()
	<-copied
	return exitOutcome(err, "")
}
