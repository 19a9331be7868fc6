// Package handlers implements the three poll-and-execute tool handlers
// (filesystem, shell command, approval) that make up the bridge's C5
// component: each Poll call fetches at most one pending request from the
// proxy, executes it (or replays a cached result), and posts the outcome
// back.
package handlers

import jsoniter "github.com/json-iterator/go"

// json is the jsoniter codec used for the high-frequency fs/cmd poll
// traffic; it is a drop-in, faster replacement for encoding/json and is
// API-compatible with it.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FSPollResponse is the body returned by GET /fs/poll.
type FSPollResponse struct {
	HasPending bool    `json:"has_pending"`
	OpID       string  `json:"op_id,omitempty"`
	Operation  string  `json:"operation,omitempty"`
	Path       string  `json:"path,omitempty"`
	Content    *string `json:"content,omitempty"`
}

// FSResult is POSTed to /fs/result.
type FSResult struct {
	OpID    string    `json:"op_id"`
	Error   string    `json:"error,omitempty"`
	Entries []FSEntry `json:"entries,omitempty"`
	Content string    `json:"content,omitempty"`
}

// FSEntry describes one directory listing entry.
type FSEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// CmdPollResponse is the body returned by GET /cmd/poll.
type CmdPollResponse struct {
	HasPending  bool   `json:"has_pending"`
	CmdID       string `json:"cmd_id,omitempty"`
	Command     string `json:"command,omitempty"`
	WorkingDir  string `json:"working_directory,omitempty"`
	Interactive bool   `json:"interactive,omitempty"`
}

// CmdResult is POSTed to /cmd/result.
type CmdResult struct {
	CommandID string `json:"command_id"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
}

// ApprovalPollResponse is the body returned by GET /approval/poll.
type ApprovalPollResponse struct {
	HasPending bool   `json:"has_pending"`
	ApprovalID string `json:"approval_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolInput  string `json:"tool_input,omitempty"`
}

// ApprovalRespondRequest is POSTed to /approval/respond.
type ApprovalRespondRequest struct {
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
}
