//go:build !unix

package session

import (
	"errors"
	"io"
	"os/exec"
	"time"
)

func runPTY(*exec.Cmd, io.Writer, time.Duration) outcome {
	return outcome{exitCode: -1, err: errors.New("pseudo-terminal sessions are not supported on this platform")}
}
