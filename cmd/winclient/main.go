// Command winclient is the agent bridge client: a long-lived terminal
// process that exposes the local filesystem and shell to a remote AI
// coding agent over a proxy's HTTP control plane, plus a loopback
// diagnostics server for operator inspection.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mylxsw/asteria/log"

	"github.com/agentrelay/winclient/pkg/client"
	"github.com/agentrelay/winclient/pkg/config"
	"github.com/agentrelay/winclient/pkg/diagnostics"
	"github.com/agentrelay/winclient/pkg/handlers"
	"github.com/agentrelay/winclient/pkg/scheduler"
	"github.com/agentrelay/winclient/pkg/session"
	"github.com/agentrelay/winclient/pkg/shell"
	"github.com/agentrelay/winclient/pkg/transfer"
	"github.com/agentrelay/winclient/pkg/transport"
	"github.com/agentrelay/winclient/pkg/ui"
)

// approvalPollInterval is how often the main loop checks for a latched
// tool approval between lines of stdin input.
const approvalPollInterval = 500 * time.Millisecond

func main() {
	configPath := flag.String("config", "winclient.ini", "path to the INI configuration file")
	host := flag.String("host", "", "proxy host, overrides the config file")
	port := flag.Int("port", 0, "proxy port, overrides the config file")
	apiKey := flag.String("apikey", os.Getenv("WINCLIENT_API_KEY"), "shared-secret API key")
	skipPermissions := flag.Bool("skip-permissions", false, "auto-approve all tool approval requests")
	debugAddr := flag.String("debug-addr", "", "loopback address for the diagnostics server, e.g. 127.0.0.1:7800 (empty disables it)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "winclient: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.IP = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *skipPermissions {
		cfg.SkipPermissions = true
	}

	if err := run(cfg, *apiKey, *debugAddr); err != nil {
		fmt.Fprintf(os.Stderr, "winclient: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, apiKey, debugAddr string) error {
	state := client.New(cfg.IP, cfg.Port, apiKey)
	state.SkipPermissions = cfg.SkipPermissions

	tr := transport.New(cfg.IP, cfg.Port, apiKey)
	backend := shell.DetectBackend()

	fsHandler := handlers.NewFSHandler(tr)
	cmdHandler := handlers.NewCmdHandler(tr, backend)
	approvalHandler := handlers.NewApprovalHandler(tr, state)
	sess := session.New(tr, state)
	sched := scheduler.New(fsHandler, cmdHandler, approvalHandler, sess, state)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(ctx)

	if debugAddr != "" {
		diag := diagnostics.New(state, fsHandler.Cache, cmdHandler.Cache)
		go func() {
			log.Debugf("diagnostics: listening on %s", debugAddr)
			if err := diag.ListenAndServe(debugAddr); err != nil {
				log.Errorf("diagnostics: server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			diag.Shutdown(shutdownCtx)
		}()
	}

	xfer := transfer.New(cfg.IP, apiKey)
	dispatcher := ui.New(sess, state, xfer, os.Stdout)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Debugf("winclient: received shutdown signal")
		state.Stop()
		cancel()
	}()

	fmt.Fprintf(os.Stdout, "winclient ready, target %s\n", net.JoinHostPort(cfg.IP, strconv.Itoa(cfg.Port)))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	approvalTicker := time.NewTicker(approvalPollInterval)
	defer approvalTicker.Stop()

	for state.Running() {
		select {
		case line, ok := <-lines:
			if !ok {
				state.Stop()
				continue
			}
			quit, err := dispatcher.Dispatch(ctx, line)
			if err != nil {
				log.Errorf("winclient: dispatch error: %v", err)
			}
			if quit {
				state.Stop()
			}
		case <-approvalTicker.C:
			promptApproval(ctx, state, approvalHandler, os.Stdout, lines)
		case <-ctx.Done():
			state.Stop()
		}
	}

	if state.Connected() {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		if err := sess.Disconnect(disconnectCtx); err != nil {
			log.Errorf("winclient: disconnect on exit failed: %v", err)
		}
	}

	return nil
}

// promptApproval checks for a latched tool approval and resolves it: auto-
// approved when SkipPermissions is set, otherwise printed to out and
// answered by the next line read from lines. It is a no-op when nothing is
// latched.
func promptApproval(ctx context.Context, state *client.State, approvalHandler *handlers.ApprovalHandler, out io.Writer, lines <-chan string) {
	if state.ApprovalState() != client.ApprovalLatched {
		return
	}
	rec, ok := state.BeginPrompt()
	if !ok {
		return
	}

	if state.SkipPermissions {
		fmt.Fprintf(out, "[auto-approving %s]\n", rec.ToolName)
		if err := approvalHandler.Respond(ctx, rec.ApprovalID, true); err != nil {
			log.Errorf("winclient: approval auto-respond failed: %v", err)
		}
		return
	}

	fmt.Fprintf(out, "Approve %s(%s)? [y/N]: ", rec.ToolName, rec.ToolInput)
	answer, ok := <-lines
	if !ok {
		state.EndPrompt()
		return
	}
	approved := strings.EqualFold(strings.TrimSpace(answer), "y") || strings.EqualFold(strings.TrimSpace(answer), "yes")
	if err := approvalHandler.Respond(ctx, rec.ApprovalID, approved); err != nil {
		log.Errorf("winclient: approval respond failed: %v", err)
	}
}
