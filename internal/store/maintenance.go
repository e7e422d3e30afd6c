package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// Maintenance runs scheduled SQLite upkeep (PRAGMA optimize, a VACUUM INTO
// backup snapshot) on a cron schedule, off the request path entirely.
type Maintenance struct {
	store     *Store
	backupDir string
	cron      *cron.Cron
}

// NewMaintenance builds a Maintenance job that snapshots backups into
// backupDir. schedule is a standard 5-field cron expression; "0 3 * * *"
// (daily at 03:00) is a reasonable default.
func NewMaintenance(s *Store, backupDir, schedule string) (*Maintenance, error) {
	m := &Maintenance{store: s, backupDir: backupDir, cron: cron.New()}
	_, err := m.cron.AddFunc(schedule, m.run)
	if err != nil {
		return nil, fmt.Errorf("schedule maintenance job: %w", err)
	}
	return m, nil
}

// Start begins running the schedule in the background.
func (m *Maintenance) Start() { m.cron.Start() }

// Stop waits for any in-flight run to finish then stops the schedule.
func (m *Maintenance) Stop() { <-m.cron.Stop().Done() }

func (m *Maintenance) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := m.store.optimize(ctx); err != nil {
		slog.Error("store maintenance: optimize failed", "err", err)
		return
	}

	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		slog.Error("store maintenance: create backup dir", "err", err)
		return
	}
	backupPath := filepath.Join(m.backupDir, fmt.Sprintf("backup-%s.sqlite", time.Now().UTC().Format("20060102-150405")))
	if err := m.store.backupInto(ctx, backupPath); err != nil {
		slog.Error("store maintenance: backup failed", "path", backupPath, "err", err)
		return
	}
	slog.Info("store maintenance completed", "backup", backupPath)
}

// optimize runs SQLite's incremental query-planner optimization pragma,
// recommended periodically for long-lived connections.
func (s *Store) optimize(ctx context.Context) error {
	return s.withConn(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `PRAGMA optimize`)
		return err
	})
}

// backupInto snapshots the live database to path via VACUUM INTO, which
// SQLite performs atomically without blocking concurrent readers for long.
func (s *Store) backupInto(ctx context.Context, path string) error {
	return s.withConn(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path)
		return err
	})
}
