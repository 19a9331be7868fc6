package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mylxsw/asteria/log"

	"github.com/agentrelay/winclient/pkg/idempotency"
	"github.com/agentrelay/winclient/pkg/pathsafety"
	"github.com/agentrelay/winclient/pkg/transport"
)

// FSHandler polls for, and executes, one filesystem operation (list, read,
// write, mkdir) per call.
type FSHandler struct {
	Transport *transport.Transport
	Cache     *idempotency.Cache

	// ResolvePath normalizes the server-supplied relative path into the
	// real path to operate on. It defaults to pathsafety.BuildFullPath;
	// tests substitute a resolver rooted at a temp directory so fs
	// operations can run on any platform, not just against a real "C:\".
	ResolvePath func(relative string) (string, error)
}

// NewFSHandler builds an FSHandler with its own idempotency cache.
func NewFSHandler(t *transport.Transport) *FSHandler {
	return &FSHandler{
		Transport:   t,
		Cache:       idempotency.New(idempotency.DefaultSize),
		ResolvePath: pathsafety.BuildFullPath,
	}
}

// Poll fetches at most one pending filesystem request, performs it (or
// replays a cached result for a repeated op_id), and posts the outcome.
// didWork is true whenever a request was executed or replayed, regardless
// of whether it ultimately succeeded. A path that fails to resolve
// (traversal, too deep) is logged and dropped: no result is ever posted
// for it, and didWork is false.
func (h *FSHandler) Poll(ctx context.Context) (didWork bool, err error) {
	raw, err := h.Transport.Do(ctx, "GET", "/fs/poll", nil)
	if err != nil {
		return false, err
	}

	var poll FSPollResponse
	if err := json.Unmarshal(raw, &poll); err != nil {
		return false, fmt.Errorf("handlers: decode fs poll response: %w", err)
	}
	if !poll.HasPending {
		return false, nil
	}

	if cached, ok := h.Cache.Lookup(poll.OpID); ok {
		log.Debugf("fs: replaying cached result for op %s", poll.OpID)
		_, err := h.Transport.Do(ctx, "POST", "/fs/result", cached)
		return true, err
	}

	resolve := h.ResolvePath
	if resolve == nil {
		resolve = pathsafety.BuildFullPath
	}
	fullPath, err := resolve(poll.Path)
	if err != nil {
		log.Errorf("fs: dropping op %s, path did not resolve: %v", poll.OpID, err)
		return false, nil
	}

	result := h.execute(poll, fullPath)

	body, err := json.Marshal(result)
	if err != nil {
		return true, fmt.Errorf("handlers: encode fs result: %w", err)
	}
	h.Cache.Store(poll.OpID, body)

	_, err = h.Transport.Do(ctx, "POST", "/fs/result", body)
	return true, err
}

// readLimit returns the maximum number of bytes a "read" operation may
// return: twice the transport's response buffer size, the way a reply has
// to fit back through the same bounded channel it arrived on.
func (h *FSHandler) readLimit() int64 {
	bufSize := h.Transport.BufferSize
	if bufSize <= 0 {
		bufSize = transport.DefaultBufferSize
	}
	return 2 * int64(bufSize)
}

func (h *FSHandler) execute(poll FSPollResponse, fullPath string) FSResult {
	result := FSResult{OpID: poll.OpID}

	switch poll.Operation {
	case "list":
		entries, err := listDir(fullPath)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.Entries = entries
	case "read":
		content, err := readFileNULTruncated(fullPath, h.readLimit())
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.Content = content
	case "write":
		if poll.Content == nil {
			result.Error = ErrMissingContent.Error()
			return result
		}
		if err := os.WriteFile(fullPath, []byte(*poll.Content), 0644); err != nil {
			result.Error = err.Error()
		}
	case "mkdir":
		if err := os.MkdirAll(fullPath, 0755); err != nil {
			result.Error = err.Error()
		}
	default:
		result.Error = ErrUnknownFSOp.Error()
	}

	return result
}

func listDir(path string) ([]FSEntry, error) {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	entries := make([]FSEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		kind := "file"
		if de.IsDir() {
			kind = "dir"
		}
		entries = append(entries, FSEntry{
			Name: de.Name(),
			Type: kind,
			Size: info.Size(),
		})
	}
	return entries, nil
}

// readFileNULTruncated reads up to limit bytes of a file and truncates its
// content at the first NUL byte, the way a null-terminated buffer copy
// would, rather than correcting that behavior. A missing or unopenable file
// maps to ErrFileNotFound, the literal string the proxy expects, rather
// than an OS path error.
func readFileNULTruncated(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", ErrFileNotFound
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", err
	}
	if idx := bytes.IndexByte(data, 0); idx >= 0 {
		data = data[:idx]
	}
	return string(data), nil
}
