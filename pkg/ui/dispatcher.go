// Package ui implements the thin external-collaborator command dispatcher:
// parsing a line of user input into one of the documented slash commands
// or plain agent input, and invoking the corresponding core operation. The
// line editor itself and any banner/status formatting beyond what is
// printed here remain out of scope.
package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/agentrelay/winclient/pkg/client"
	"github.com/agentrelay/winclient/pkg/session"
	"github.com/agentrelay/winclient/pkg/transfer"
)

// Dispatcher parses and executes one line of user input at a time.
type Dispatcher struct {
	Session  *session.Session
	State    *client.State
	Transfer *transfer.Client

	Out io.Writer
}

// New builds a Dispatcher writing output to out.
func New(sess *session.Session, state *client.State, xfer *transfer.Client, out io.Writer) *Dispatcher {
	return &Dispatcher{Session: sess, State: state, Transfer: xfer, Out: out}
}

func (d *Dispatcher) printf(format string, args ...any) {
	fmt.Fprintf(d.Out, format, args...)
}

// Dispatch handles one line of input. quit reports whether the caller's
// read loop should stop.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return false, nil
	}

	if !strings.HasPrefix(line, "/") {
		err := d.Session.SendInput(ctx, line, func(output string) {
			d.printf("%s\n", output)
		})
		if err != nil {
			d.printf("[Error: send input: %s]\n", err)
		}
		return false, nil
	}

	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/connect":
		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		if err := d.Session.Connect(ctx, dir); err != nil {
			d.printf("[Error: connect: %s]\n", err)
		} else {
			d.printf("connected, session_id=%s\n", d.State.SessionID())
		}

	case "/disconnect":
		if err := d.Session.Disconnect(ctx); err != nil {
			d.printf("[Error: disconnect: %s]\n", err)
		} else {
			d.printf("disconnected\n")
		}

	case "/poll":
		output, stopped, err := d.Session.PollOnce(ctx)
		if err != nil {
			d.printf("[Error: poll: %s]\n", err)
			break
		}
		if output != "" {
			d.printf("%s\n", output)
		}
		if stopped {
			d.printf("[Session stopped]\n")
		}

	case "/status":
		snap := d.State.Snapshot()
		d.printf("connected=%v session_id=%q approval=%s\n", snap.Connected, snap.SessionID, snap.ApprovalState)

	case "/server":
		if len(args) != 1 {
			d.printf("[Error: usage: /server ip:port]\n")
			break
		}
		host, portStr, ok := strings.Cut(args[0], ":")
		if !ok {
			d.printf("[Error: usage: /server ip:port]\n")
			break
		}
		port, convErr := strconv.Atoi(portStr)
		if convErr != nil {
			d.printf("[Error: invalid port %q]\n", portStr)
			break
		}
		d.State.ServerIP = host
		d.State.ServerPort = port
		d.printf("server set to %s:%d\n", host, port)

	case "/download":
		if len(args) != 2 {
			d.printf("[Error: usage: /download <remote> <local>]\n")
			break
		}
		if err := d.download(args[0], args[1]); err != nil {
			d.printf("[Error: download: %s]\n", err)
		} else {
			d.printf("downloaded %s -> %s\n", args[0], args[1])
		}

	case "/upload":
		if len(args) != 2 {
			d.printf("[Error: usage: /upload <local> <remote>]\n")
			break
		}
		if err := d.upload(args[0], args[1]); err != nil {
			d.printf("[Error: upload: %s]\n", err)
		} else {
			d.printf("uploaded %s -> %s\n", args[0], args[1])
		}

	case "/clear":
		d.printf("\033[2J\033[H")

	case "/log":
		// Logfile toggling is out of scope for the core; this command is
		// accepted and acknowledged so the dispatch table matches the
		// documented command set.
		d.printf("[log command acknowledged, not implemented by the core]\n")

	case "/quit":
		d.State.Stop()
		return true, nil

	default:
		d.printf("[Error: unknown command %q]\n", cmd)
	}

	return false, nil
}

func (d *Dispatcher) download(remote, local string) error {
	f, err := os.Create(local)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = d.Transfer.Download(remote, f)
	return err
}

func (d *Dispatcher) upload(local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	return d.Transfer.Upload(remote, bufio.NewReader(f), info.Size())
}
