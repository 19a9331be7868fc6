// Package scheduler implements the background poll driver (C7): one loop
// body that drains the fs and cmd handlers, latches at most one pending
// approval, and fetches conversational output, in that fixed order so a
// command depending on a fresh file write never races a newer approval.
//
// The same Tick is used by the background goroutine (Run) and by a
// synchronous fallback a caller could drive inline from its own idle
// ticks. Tick itself is unaware of which context it runs in, which
// keeps the two execution modes behaviorally identical.
package scheduler

import (
	"context"
	"time"

	"github.com/mylxsw/asteria/log"

	"github.com/agentrelay/winclient/pkg/client"
	"github.com/agentrelay/winclient/pkg/handlers"
	"github.com/agentrelay/winclient/pkg/session"
)

const (
	// DefaultSleep is the pause between Tick iterations in Run.
	DefaultSleep = 1 * time.Second
	// IdleCyclesPerTick is how many of the caller's own idle ticks should
	// elapse between synchronous-fallback Tick calls.
	IdleCyclesPerTick = 5
)

// Scheduler drains the three pollers and the output fetch against shared
// client state.
type Scheduler struct {
	FS       *handlers.FSHandler
	Cmd      *handlers.CmdHandler
	Approval *handlers.ApprovalHandler
	Session  *session.Session
	State    *client.State

	Sleep time.Duration
}

// New builds a Scheduler from its component handlers.
func New(fs *handlers.FSHandler, cmd *handlers.CmdHandler, approval *handlers.ApprovalHandler, sess *session.Session, state *client.State) *Scheduler {
	return &Scheduler{FS: fs, Cmd: cmd, Approval: approval, Session: sess, State: state, Sleep: DefaultSleep}
}

// Run drives Tick in a loop until State.Running() is false or ctx is
// canceled, sleeping Sleep between iterations. Cancellation is cooperative:
// a Tick already in flight is allowed to finish before the loop checks
// Running again.
func (s *Scheduler) Run(ctx context.Context) {
	for s.State.Running() {
		if err := s.Tick(ctx); err != nil {
			log.Errorf("scheduler: tick failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.sleep()):
		}
	}
}

func (s *Scheduler) sleep() time.Duration {
	if s.Sleep <= 0 {
		return DefaultSleep
	}
	return s.Sleep
}

// Tick runs exactly one scheduler iteration: drain fs, drain cmd, latch at
// most one approval, fetch output. It returns after the session id check
// immediately (did nothing) when no session is connected yet.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.State.SessionID() == "" {
		return nil
	}

	if err := s.drain(ctx, s.FS.Poll); err != nil {
		log.Errorf("scheduler: fs poll: %v", err)
	}
	if err := s.drain(ctx, s.Cmd.Poll); err != nil {
		log.Errorf("scheduler: cmd poll: %v", err)
	}

	if _, err := s.Approval.Poll(ctx); err != nil {
		log.Errorf("scheduler: approval poll: %v", err)
	}

	if _, _, err := s.Session.PollOnce(ctx); err != nil {
		log.Errorf("scheduler: output poll: %v", err)
	}

	return nil
}

// drain calls poll repeatedly while it reports having done work, so a burst
// of queued requests is flushed before the scheduler moves to the next
// stream or sleeps.
func (s *Scheduler) drain(ctx context.Context, poll func(context.Context) (bool, error)) error {
	for {
		didWork, err := poll(ctx)
		if err != nil {
			return err
		}
		if !didWork {
			return nil
		}
	}
}
