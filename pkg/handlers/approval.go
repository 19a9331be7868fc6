package handlers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/agentrelay/winclient/pkg/client"
	"github.com/agentrelay/winclient/pkg/transport"
)

// ApprovalHandler polls for a pending tool-approval request and latches it
// into the shared client.State, where the foreground UI loop picks it up,
// prompts the user, and reports the verdict back via Respond. Splitting
// fetch (here) from prompt (the UI) and respond (here again) is what keeps
// a slow or absent human from blocking the background poll scheduler, and
// is what makes the three-state approval machine in pkg/client necessary.
type ApprovalHandler struct {
	Transport *transport.Transport
	State     *client.State
}

// NewApprovalHandler builds an ApprovalHandler bound to the shared state.
func NewApprovalHandler(t *transport.Transport, state *client.State) *ApprovalHandler {
	return &ApprovalHandler{Transport: t, State: state}
}

// Poll fetches at most one pending approval request and latches it. If an
// approval is already latched or being prompted, the fetched request is
// simply dropped on this tick; the server will re-offer it on the next
// poll once the in-flight one resolves.
func (h *ApprovalHandler) Poll(ctx context.Context) (didWork bool, err error) {
	sessionID := h.State.SessionID()
	path := "/approval/poll?session_id=" + url.QueryEscape(sessionID)

	raw, err := h.Transport.Do(ctx, "GET", path, nil)
	if err != nil {
		return false, err
	}

	var poll ApprovalPollResponse
	if err := json.Unmarshal(raw, &poll); err != nil {
		return false, fmt.Errorf("handlers: decode approval poll response: %w", err)
	}
	if !poll.HasPending {
		return false, nil
	}

	h.State.LatchApproval(client.ApprovalRecord{
		ApprovalID: poll.ApprovalID,
		ToolName:   poll.ToolName,
		ToolInput:  poll.ToolInput,
	})
	return true, nil
}

// Respond posts the user's verdict for the approval currently being
// prompted (see client.State.BeginPrompt) and returns the state machine to
// Idle regardless of whether the POST succeeds, so a network hiccup can't
// wedge the client into permanently ignoring new approvals.
func (h *ApprovalHandler) Respond(ctx context.Context, approvalID string, approved bool) error {
	defer h.State.EndPrompt()

	body, err := json.Marshal(ApprovalRespondRequest{ApprovalID: approvalID, Approved: approved})
	if err != nil {
		return fmt.Errorf("handlers: encode approval response: %w", err)
	}

	_, err = h.Transport.Do(ctx, "POST", "/approval/respond", body)
	return err
}
