//go:build !windows

package shell

import "context"

// DetectBackend on non-Windows platforms returns a backend that always
// fails. The wire protocol and path semantics (the "C:\" rooted virtual
// filesystem) are Windows-specific by design; this stub exists only so the
// rest of the module builds and can be unit tested on any GOOS.
func DetectBackend() Backend {
	return unsupportedBackend{}
}

// DetectInteractiveBackend mirrors DetectBackend: this stub platform has no
// PTY-backed backend to offer.
func DetectInteractiveBackend() Backend {
	return unsupportedBackend{}
}

type unsupportedBackend struct{}

func (unsupportedBackend) Run(ctx context.Context, command, workingDir string) (Result, error) {
	return Result{}, ErrUnsupportedPlatform
}

// Version reports a placeholder version string on platforms this client
// cannot actually run the legacy shell backends on.
func Version() string {
	return "unknown"
}
