package handlers

import (
	"context"
	"fmt"

	"github.com/mylxsw/asteria/log"

	"github.com/agentrelay/winclient/pkg/idempotency"
	"github.com/agentrelay/winclient/pkg/pathsafety"
	"github.com/agentrelay/winclient/pkg/shell"
	"github.com/agentrelay/winclient/pkg/transport"
)

// CmdHandler polls for, and executes, one shell command per call.
type CmdHandler struct {
	Transport *transport.Transport
	Backend   shell.Backend
	// Interactive is the backend used for a poll that carries
	// "interactive": true, in place of Backend.
	Interactive shell.Backend
	Cache       *idempotency.Cache
}

// NewCmdHandler builds a CmdHandler bound to the given shell backend, the
// platform's interactive backend (DetectInteractiveBackend), and its own
// idempotency cache.
func NewCmdHandler(t *transport.Transport, backend shell.Backend) *CmdHandler {
	return &CmdHandler{
		Transport:   t,
		Backend:     backend,
		Interactive: shell.DetectInteractiveBackend(),
		Cache:       idempotency.New(idempotency.DefaultSize),
	}
}

// Poll fetches at most one pending command, runs it (or replays a cached
// result), and posts the outcome.
func (h *CmdHandler) Poll(ctx context.Context) (didWork bool, err error) {
	raw, err := h.Transport.Do(ctx, "GET", "/cmd/poll", nil)
	if err != nil {
		return false, err
	}

	var poll CmdPollResponse
	if err := json.Unmarshal(raw, &poll); err != nil {
		return false, fmt.Errorf("handlers: decode cmd poll response: %w", err)
	}
	if !poll.HasPending {
		return false, nil
	}

	if cached, ok := h.Cache.Lookup(poll.CmdID); ok {
		log.Debugf("cmd: replaying cached result for command %s", poll.CmdID)
		_, err := h.Transport.Do(ctx, "POST", "/cmd/result", cached)
		return true, err
	}

	result := h.execute(ctx, poll)

	body, err := json.Marshal(result)
	if err != nil {
		return true, fmt.Errorf("handlers: encode cmd result: %w", err)
	}
	h.Cache.Store(poll.CmdID, body)

	_, err = h.Transport.Do(ctx, "POST", "/cmd/result", body)
	return true, err
}

func (h *CmdHandler) execute(ctx context.Context, poll CmdPollResponse) CmdResult {
	result := CmdResult{CommandID: poll.CmdID}

	backend := h.Backend
	if poll.Interactive && h.Interactive != nil {
		backend = h.Interactive
	}
	if backend == nil {
		result.Stderr = ErrNoBackend.Error()
		result.ExitCode = -1
		return result
	}

	command := pathsafety.PathToBackslashes(poll.Command)

	var workingDir string
	if poll.WorkingDir != "" {
		if full, err := pathsafety.BuildFullPath(poll.WorkingDir); err == nil {
			workingDir = full
		}
	}

	out, err := backend.Run(ctx, command, workingDir)
	if err != nil {
		result.Stderr = err.Error()
		result.ExitCode = -1
		return result
	}

	result.Stdout = out.Stdout
	result.Stderr = out.Stderr
	result.ExitCode = out.ExitCode
	return result
}
