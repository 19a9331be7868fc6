// Package session implements the control-plane lifecycle (C6): starting
// and stopping a session, sending user input, heartbeating, and fetching
// conversational output, plus the foreground output loop send_input drives
// while waiting for the agent to respond.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mylxsw/asteria/log"

	"github.com/agentrelay/winclient/pkg/client"
	"github.com/agentrelay/winclient/pkg/shell"
	"github.com/agentrelay/winclient/pkg/transport"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrAlreadyConnected is returned by Connect when a session is already
	// latched; only one session per client is allowed at a time.
	ErrAlreadyConnected = errors.New("session: already connected")
	// ErrNotConnected is returned by operations that require a live session.
	ErrNotConnected = errors.New("session: not connected")
)

const (
	// HeartbeatInterval is how often Heartbeat actually sends a request
	// once due.
	HeartbeatInterval = 30 * time.Second
	// PollSleep is the delay between output polls in the foreground loop.
	PollSleep = 1 * time.Second
	// PollTimeoutCycles bounds the foreground output loop before it gives up
	// and reports a timeout to the caller.
	PollTimeoutCycles = 120
	// IdleCyclesAfterOutput ends the foreground loop once this many polls in
	// a row return nothing, after some substantive output has been seen.
	IdleCyclesAfterOutput = 2
)

// Session drives the control-plane endpoints against the shared state.
type Session struct {
	Transport *transport.Transport
	State     *client.State
}

// New builds a Session bound to the given transport and shared state.
func New(t *transport.Transport, state *client.State) *Session {
	return &Session{Transport: t, State: state}
}

type startRequest struct {
	WorkingDirectory string `json:"working_directory,omitempty"`
	WindowsVersion   string `json:"windows_version"`
	ClientInstanceID string `json:"client_instance_id"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

// Connect starts a new session rooted at workingDir (empty means the
// server's default), refusing if one is already latched.
func (s *Session) Connect(ctx context.Context, workingDir string) error {
	if s.State.Connected() {
		return ErrAlreadyConnected
	}

	body, err := json.Marshal(startRequest{
		WorkingDirectory: workingDir,
		WindowsVersion:   shell.Version(),
		ClientInstanceID: s.State.InstanceID,
	})
	if err != nil {
		return fmt.Errorf("session: encode start request: %w", err)
	}

	raw, err := s.Transport.Do(ctx, "POST", "/start", body)
	if err != nil {
		return fmt.Errorf("session: start: %w", err)
	}

	var resp startResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("session: decode start response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("session: server refused start: %s", resp.Error)
	}
	if resp.SessionID == "" {
		return fmt.Errorf("session: server did not return a session id")
	}

	s.State.SetSession(resp.SessionID)
	log.Debugf("session: connected, session_id=%s", resp.SessionID)
	return nil
}

type stopRequest struct {
	SessionID string `json:"session_id"`
}

// Disconnect best-effort notifies the server and always clears local state.
func (s *Session) Disconnect(ctx context.Context) error {
	sessionID := s.State.SessionID()
	if sessionID == "" {
		return ErrNotConnected
	}

	body, _ := json.Marshal(stopRequest{SessionID: sessionID})
	if _, err := s.Transport.Do(ctx, "POST", "/stop", body); err != nil {
		log.Errorf("session: stop request failed (clearing local state anyway): %v", err)
	}

	s.State.ClearSession()
	return nil
}

// Heartbeat sends a heartbeat if one is due; it is a no-op otherwise.
func (s *Session) Heartbeat(ctx context.Context) error {
	if !s.State.HeartbeatDue(HeartbeatInterval) {
		return nil
	}

	sessionID := s.State.SessionID()
	if sessionID == "" {
		return nil
	}

	body, _ := json.Marshal(stopRequest{SessionID: sessionID})
	if _, err := s.Transport.Do(ctx, "POST", "/heartbeat", body); err != nil {
		return fmt.Errorf("session: heartbeat: %w", err)
	}

	s.State.MarkHeartbeat()
	return nil
}

type inputRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type inputResponse struct {
	Error string `json:"error"`
}

// SendInput posts text (with a trailing newline appended, matching the
// original line-oriented protocol) to the current session, then runs the
// foreground output loop until the agent goes idle, the session stops, or
// PollTimeoutCycles elapses. onOutput is called once per non-empty poll.
func (s *Session) SendInput(ctx context.Context, text string, onOutput func(string)) error {
	sessionID := s.State.SessionID()
	if sessionID == "" {
		return ErrNotConnected
	}

	body, err := json.Marshal(inputRequest{SessionID: sessionID, Text: text + "\n"})
	if err != nil {
		return fmt.Errorf("session: encode input request: %w", err)
	}

	raw, err := s.Transport.Do(ctx, "POST", "/input", body)
	if err != nil {
		return fmt.Errorf("session: send input: %w", err)
	}

	var resp inputResponse
	if err := json.Unmarshal(raw, &resp); err == nil && resp.Error != "" {
		return fmt.Errorf("session: server rejected input: %s", resp.Error)
	}

	return s.outputLoop(ctx, onOutput)
}

type outputResponse struct {
	Output string `json:"output"`
	Status string `json:"status"`
}

// PollOnce performs a single /output fetch without looping, surfacing the
// result the same way the background scheduler would.
func (s *Session) PollOnce(ctx context.Context) (output string, stopped bool, err error) {
	sessionID := s.State.SessionID()
	if sessionID == "" {
		return "", false, ErrNotConnected
	}

	path := "/output?session_id=" + url.QueryEscape(sessionID)
	raw, err := s.Transport.Do(ctx, "GET", path, nil)
	if err != nil {
		return "", false, err
	}

	var resp outputResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", false, fmt.Errorf("session: decode output response: %w", err)
	}

	stopped = resp.Status == "stopped"
	s.State.SetPendingOutput(resp.Output, stopped)
	return resp.Output, stopped, nil
}

// isSubstantive reports whether output is more than a bracketed status line
// ("[Session ...]", "[Using tool ...]"), which is what the foreground loop
// waits for before it starts counting idle cycles.
func isSubstantive(output string) bool {
	if output == "" {
		return false
	}
	for _, prefix := range []string{"[Session", "[Using tool"} {
		if len(output) >= len(prefix) && output[:len(prefix)] == prefix {
			return false
		}
	}
	return true
}

// outputLoop polls /output on PollSleep cadence until substantive output has
// been seen and then goes idle for IdleCyclesAfterOutput polls in a row, the
// session is reported stopped, or PollTimeoutCycles consecutive idle polls
// elapse. Any output, substantive or not, resets the idle streak, so a
// session producing steady sparse output never times out no matter how many
// total cycles it runs for.
func (s *Session) outputLoop(ctx context.Context, onOutput func(string)) error {
	sawSubstantive := false
	idleStreak := 0

	for {
		output, stopped, err := s.PollOnce(ctx)
		if err != nil {
			log.Errorf("session: output poll failed: %v", err)
		} else if output != "" {
			if onOutput != nil {
				onOutput(output)
			}
			if isSubstantive(output) {
				sawSubstantive = true
			}
			idleStreak = 0
		} else {
			idleStreak++
		}

		if stopped {
			return nil
		}
		if sawSubstantive && idleStreak >= IdleCyclesAfterOutput {
			return nil
		}
		if idleStreak >= PollTimeoutCycles {
			return fmt.Errorf("session: output poll timed out after %d consecutive idle cycles", PollTimeoutCycles)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollSleep):
		}
	}
}
