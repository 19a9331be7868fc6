//go:build windows

package shell

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/creack/pty"
)

// DetectInteractiveBackend returns the PTY-backed backend CmdHandler
// selects when a polled command carries "interactive": true.
func DetectInteractiveBackend() Backend {
	return &PTYBackend{}
}

// PTYBackend runs a command attached to a pseudo-terminal instead of a
// plain pipe, for commands that probe isatty or otherwise behave
// differently without a real console (a server-signaled "interactive"
// flag on a command poll). Modeled on the PTY-backed subprocess pattern
// used to capture unbuffered CLI output.
type PTYBackend struct{}

func (b *PTYBackend) Run(ctx context.Context, command, workingDir string) (Result, error) {
	if err := checkLength(command, modernOverhead); err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, "cmd.exe", "/c", command)
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return Result{}, fmt.Errorf("failed to start command with pty: %w", err)
	}
	defer ptmx.Close()

	var combined bytes.Buffer
	limited := &limitWriter{w: &combined, limit: MaxOutputBytes}

	scanner := bufio.NewScanner(ptmx)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		limited.Write(scanner.Bytes())
		limited.Write([]byte("\r\n"))
	}

	runErr := cmd.Wait()
	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	return Result{Stdout: combined.String(), ExitCode: exitCode}, nil
}
