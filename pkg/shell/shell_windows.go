//go:build windows

package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/mylxsw/asteria/log"
	"golang.org/x/sys/windows"
)

// DetectBackend probes the running Windows version and returns the
// appropriate Backend: ModernBackend for NT-based Windows (major version
// >= 5: 2000 and later), LegacyBackend for Windows 9x.
func DetectBackend() Backend {
	major, _, _ := windowsVersion()
	if major >= 5 {
		return &ModernBackend{}
	}
	return &LegacyBackend{}
}

func windowsVersion() (major, minor uint32, build uint32) {
	ver := windows.RtlGetVersion()
	return ver.MajorVersion, ver.MinorVersion, ver.BuildNumber
}

// Version reports the running Windows version as "major.minor.build", for
// the session handshake's windows_version field.
func Version() string {
	major, minor, build := windowsVersion()
	return fmt.Sprintf("%d.%d.%d", major, minor, build)
}

// ModernBackend runs commands through cmd.exe with stderr folded into
// stdout, the way NT-based Windows reliably supports.
type ModernBackend struct{}

const modernOverhead = len("cmd.exe /c ") + len(" 2>&1")

func (b *ModernBackend) Run(ctx context.Context, command, workingDir string) (Result, error) {
	if err := checkLength(command, modernOverhead); err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, "cmd.exe", "/c", command)
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	var combined bytes.Buffer
	limited := &limitWriter{w: &combined, limit: MaxOutputBytes}
	cmd.Stdout = limited
	cmd.Stderr = limited

	runErr := cmd.Run()

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return Result{}, fmt.Errorf("failed to execute command with cmd.exe: %w", runErr)
	}

	return Result{Stdout: combined.String(), ExitCode: exitCode}, nil
}

// LegacyBackend runs commands through command.com, redirecting output to a
// temp file and reading it back, because Windows 9x's popen/pipe stdout
// support is not trustworthy for this purpose.
//
// It does not escape the command against an embedded ">": a command that
// contains its own redirection will have that redirection silently
// overridden by the wrapper's "> tempfile". This is a known, documented
// limitation rather than a bug to fix here.
type LegacyBackend struct{}

const legacyOverhead = len("command.com /c ") + len(" > ") + 1 // +1 for a short temp path margin

func (b *LegacyBackend) Run(ctx context.Context, command, workingDir string) (Result, error) {
	tempFile := legacyTempFile()

	if err := checkLength(command, legacyOverhead+len(tempFile)); err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, "command.com", "/c", fmt.Sprintf("%s > %s", command, tempFile))
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	log.Debugf("shell: exec via command.com, redirecting to %s", tempFile)

	runErr := cmd.Run()
	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return Result{}, fmt.Errorf("failed to execute command with command.com: %w", runErr)
	}

	output, readErr := readCapped(tempFile, MaxOutputBytes)
	os.Remove(tempFile)
	if readErr != nil {
		log.Errorf("shell: could not read temp output file: %v", readErr)
		return Result{Stdout: "Error: Could not capture output", ExitCode: exitCode}, nil
	}

	return Result{Stdout: output, ExitCode: exitCode}, nil
}

func legacyTempFile() string {
	dir := os.Getenv("TEMP")
	if dir == "" {
		dir = os.Getenv("TMP")
	}
	if dir == "" {
		dir = `C:\`
	}
	return filepath.Join(dir, "CMDOUT.TMP")
}

func readCapped(path string, limit int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(limit)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// limitWriter caps total bytes written to w at limit, discarding anything
// past that point without erroring, matching a fixed-buffer capture.
type limitWriter struct {
	w     io.Writer
	limit int
	n     int
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if l.n >= l.limit {
		return len(p), nil
	}
	room := l.limit - l.n
	if room > len(p) {
		room = len(p)
	}
	n, err := l.w.Write(p[:room])
	l.n += n
	return len(p), err
}
