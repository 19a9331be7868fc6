// Package client holds the process-wide, mutex-guarded bridge state: the
// current session, pending agent output, and the pending tool-approval
// record.
package client

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ApprovalState is the three-state machine guarding tool approvals:
// a request is latched by the scheduler, handed to the UI for prompting,
// then returns to idle once answered. Only Idle permits a new latch, which
// is what stops a repeated server poll from presenting the same tool twice.
type ApprovalState int

const (
	ApprovalIdle ApprovalState = iota
	ApprovalLatched
	ApprovalPrompting
)

func (s ApprovalState) String() string {
	switch s {
	case ApprovalIdle:
		return "idle"
	case ApprovalLatched:
		return "latched"
	case ApprovalPrompting:
		return "prompting"
	default:
		return "unknown"
	}
}

// ApprovalRecord describes one pending or in-flight tool approval.
type ApprovalRecord struct {
	ApprovalID string
	ToolName   string
	ToolInput  string
}

// State is the bridge's shared, mutex-guarded runtime state. The unexported
// fields are guarded by mu and accessed only through its methods; the
// exported fields are read and written directly, without the lock. The
// mutex must never be held across a network call or shell execution.
type State struct {
	mu sync.Mutex

	// InstanceID identifies this client process across reconnects, for
	// correlating its log lines and diagnostics snapshots with the
	// proxy's own logs. It never changes for the life of the process.
	InstanceID string

	ServerIP   string
	ServerPort int
	APIKey     string

	sessionID      string
	connected      bool
	sessionStopped bool

	running bool

	lastHeartbeat time.Time

	pendingOutput    string
	hasPendingOutput bool

	approval        ApprovalRecord
	hasPendingApprl bool
	approvalInProg  bool

	SkipPermissions bool
	Logfile         *os.File
}

// New creates a State bound to the given server endpoint.
func New(serverIP string, serverPort int, apiKey string) *State {
	return &State{
		InstanceID: uuid.NewString(),
		ServerIP:   serverIP,
		ServerPort: serverPort,
		APIKey:     apiKey,
		running:    true,
	}
}

// SessionID returns the current session id under lock. Callers that are
// about to make a blocking call must copy this value out before doing so.
func (s *State) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Connected reports whether a session is currently latched.
func (s *State) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SetSession latches a new session id, atomically marking the client
// connected and clearing any stale session-stopped flag.
func (s *State) SetSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
	s.connected = true
	s.sessionStopped = false
	s.lastHeartbeat = time.Now()
}

// ClearSession clears the session id and connected flag atomically, as
// Disconnect does. A server-signaled "stopped" status is cleared by
// TakePendingOutput instead.
func (s *State) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = ""
	s.connected = false
}

// Running reports whether the main loop should keep going.
func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop requests that the main loop and scheduler exit at their next
// cooperative checkpoint.
func (s *State) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// HeartbeatDue reports whether at least interval has elapsed since the
// last heartbeat, given the session is connected.
func (s *State) HeartbeatDue(interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" {
		return false
	}
	if s.lastHeartbeat.IsZero() {
		return true
	}
	return time.Since(s.lastHeartbeat) >= interval
}

// MarkHeartbeat records that a heartbeat just succeeded.
func (s *State) MarkHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = time.Now()
}

// SetPendingOutput records output surfaced by a poll for the foreground
// loop to print, and optionally the server-signaled stopped status.
func (s *State) SetPendingOutput(output string, stopped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if output != "" {
		s.pendingOutput = output
		s.hasPendingOutput = true
	}
	if stopped {
		s.sessionStopped = true
	}
}

// TakePendingOutput atomically reads and clears pending output, and reports
// (and clears) whether the session ended. If the session ended, the session
// id and connected flag are cleared in the same critical section.
func (s *State) TakePendingOutput() (output string, hasOutput bool, sessionEnded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasPendingOutput {
		output = s.pendingOutput
		hasOutput = true
		s.hasPendingOutput = false
	}

	if s.sessionStopped {
		s.sessionStopped = false
		s.sessionID = ""
		s.connected = false
		sessionEnded = true
	}

	return output, hasOutput, sessionEnded
}

// ApprovalState reports the current state of the approval state machine.
func (s *State) ApprovalState() ApprovalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approvalStateLocked()
}

func (s *State) approvalStateLocked() ApprovalState {
	switch {
	case s.approvalInProg:
		return ApprovalPrompting
	case s.hasPendingApprl:
		return ApprovalLatched
	default:
		return ApprovalIdle
	}
}

// LatchApproval stores a newly polled approval request, but only if the
// state machine is currently Idle. It reports whether the latch happened;
// a false return means a prompt is already pending or in progress and the
// caller must not overwrite it (spec scenario: a repeated server poll must
// never clobber the approval currently being shown to the user).
func (s *State) LatchApproval(rec ApprovalRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.approvalStateLocked() != ApprovalIdle {
		return false
	}

	s.approval = rec
	s.hasPendingApprl = true
	return true
}

// BeginPrompt transitions Latched -> Prompting, returning the record to
// show the user. ok is false if there was nothing latched.
func (s *State) BeginPrompt() (rec ApprovalRecord, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasPendingApprl {
		return ApprovalRecord{}, false
	}

	rec = s.approval
	s.hasPendingApprl = false
	s.approvalInProg = true
	return rec, true
}

// EndPrompt transitions Prompting -> Idle once the approval response has
// been posted.
func (s *State) EndPrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvalInProg = false
}

// Snapshot is a point-in-time, lock-free copy of state for diagnostics.
type Snapshot struct {
	InstanceID       string
	Connected        bool
	SessionID        string
	HasPendingOutput bool
	ApprovalState    string
}

// Snapshot returns a copy of the fields diagnostics exposes. It never holds
// the lock across anything but the copy itself.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		InstanceID:       s.InstanceID,
		Connected:        s.connected,
		SessionID:        s.sessionID,
		HasPendingOutput: s.hasPendingOutput,
		ApprovalState:    s.approvalStateLocked().String(),
	}
}
