package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOptimizeAndBackupInto(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.optimize(ctx); err != nil {
		t.Fatalf("optimize: %v", err)
	}

	backupPath := filepath.Join(t.TempDir(), "backup.sqlite")
	if err := s.backupInto(ctx, backupPath); err != nil {
		t.Fatalf("backup into: %v", err)
	}
	if _, err := os.Stat(backupPath); err != nil {
		t.Fatalf("expected backup file to exist: %v", err)
	}
}

func TestNewMaintenanceRejectsBadSchedule(t *testing.T) {
	s := openTestStore(t)
	if _, err := NewMaintenance(s, t.TempDir(), "not a cron expression"); err == nil {
		t.Fatalf("expected an error for a malformed cron schedule")
	}
}
