package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"zway/server/internal/relay"
)

// RunCLI handles subcommand execution ahead of flag parsing. Returns true if
// a subcommand was handled and the process should now exit.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}
	if args[0] == "version" {
		fmt.Printf("zway server %s\n", Version)
		return true
	}
	return false
}

// runInteractiveCommands reads single-key commands from stdin until ctx is
// cancelled or the operator sends 'e': p pause/resume, r remove all
// sessions, i print status, e exit.
func runInteractiveCommands(ctx context.Context, srv *relay.Server) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		switch line[0] {
		case 'p':
			if srv.Pause() {
				slog.Info("relay paused")
			} else if srv.Resume(ctx) {
				slog.Info("relay resumed")
			} else {
				slog.Info("pause/resume had no effect")
			}
		case 'r':
			n := srv.RemoveAllSessions()
			slog.Info("removed all sessions", "count", n)
		case 'i':
			sessions, accounts := srv.SessionCount()
			streams := srv.StreamCount()
			slog.Info("status", "sessions", sessions, "accounts_online", accounts, "active_streams", streams)
		case 'e':
			slog.Info("exit requested")
			os.Exit(0)
		default:
			slog.Warn("unknown command", "key", string(line[0]))
		}
	}
}
