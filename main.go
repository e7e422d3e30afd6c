package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"zway/server/internal/admin"
	"zway/server/internal/push"
	"zway/server/internal/relay"
	"zway/server/internal/store"
	"zway/server/internal/streambuf"
	"zway/server/internal/tlscert"
)

// Version is the relay's build version, overridable at link time via
// -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		cliDB := "zway.db"
		if RunCLI(os.Args[1:], cliDB) {
			return
		}
	}

	address := flag.String("address", "", "relay bind address, host only (required)")
	port := flag.Int("port", 5557, "relay bind port")
	adminAddr := flag.String("admin-addr", "", "admin/observability listen address (empty to disable)")
	dbPath := flag.String("db", "zway.db", "SQLite database path")
	poolSize := flag.Int("num-workers", 20, "store connection pool size (capped at 50)")
	certDir := flag.String("cert-dir", "certs", "directory holding (or to receive) the relay's TLS key pair")
	certValidity := flag.Duration("cert-validity", 90*24*time.Hour, "self-signed TLS certificate validity, when one must be generated")
	fcmServerKey := flag.String("fcm-server-key", "", "FCM legacy server key for push notifications (empty disables push)")
	maintSchedule := flag.String("maintenance-schedule", "0 3 * * *", "cron schedule for store optimize + backup")
	backupDir := flag.String("backup-dir", "backups", "directory for scheduled store backups")
	disconnectOnHeartbeatTimeout := flag.Bool("disconnect-on-heartbeat-timeout", false, "close a session when its heartbeat expires instead of only logging it")
	daemon := flag.Bool("daemon", false, "suppress the interactive stdin command loop")
	flag.Parse()

	if *address == "" {
		slog.Error("--address is required")
		os.Exit(1)
	}
	bindAddr := net.JoinHostPort(*address, strconv.Itoa(*port))

	if *poolSize <= 0 || *poolSize > 50 {
		slog.Warn("num-workers out of documented range, clamping", "requested", *poolSize)
		if *poolSize <= 0 {
			*poolSize = store.DefaultPoolSize
		} else {
			*poolSize = 50
		}
	}

	st, err := store.Open(*dbPath, *poolSize)
	if err != nil {
		slog.Error("open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	tmpDir := filepath.Join(filepath.Dir(*dbPath), "tmp")
	streams, err := streambuf.New(tmpDir)
	if err != nil {
		slog.Error("open stream buffer pool", "err", err)
		os.Exit(1)
	}

	pusher := push.New(*fcmServerKey)

	tlsConfig, err := tlscert.LoadOrGenerate(*certDir, *certValidity, *address)
	if err != nil {
		slog.Error("load or generate tls certificate", "err", err)
		os.Exit(1)
	}

	srv := relay.New(bindAddr, tlsConfig, st, streams, pusher, relay.Options{
		DisconnectOnHeartbeatTimeout: *disconnectOnHeartbeatTimeout,
	})

	maint, err := store.NewMaintenance(st, *backupDir, *maintSchedule)
	if err != nil {
		slog.Error("schedule store maintenance", "err", err)
		os.Exit(1)
	}
	maint.Start()
	defer maint.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	if *adminAddr != "" {
		adminSrv := admin.New(*adminAddr, srv)
		go func() {
			if err := adminSrv.Run(ctx); err != nil {
				slog.Error("admin server", "err", err)
			}
		}()
	}

	if !*daemon {
		go runInteractiveCommands(ctx, srv)
	}

	if err := srv.Run(ctx); err != nil {
		slog.Error("relay server", "err", err)
		os.Exit(1)
	}
}
