package tlscert

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGenerateSelfSignedProducesUsableConfig(t *testing.T) {
	cfg, fingerprint, err := GenerateSelfSigned(time.Hour, "localhost")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected exactly one certificate")
	}
	if fingerprint == "" {
		t.Fatalf("expected non-empty fingerprint")
	}
}

func TestLoadOrGeneratePersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerate(dir, time.Hour, "localhost")
	if err != nil {
		t.Fatalf("first LoadOrGenerate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, certFileName)); err != nil {
		t.Fatalf("expected cert file to be persisted: %v", err)
	}

	second, err := LoadOrGenerate(dir, time.Hour, "localhost")
	if err != nil {
		t.Fatalf("second LoadOrGenerate: %v", err)
	}

	if first.Certificates[0].Leaf.SerialNumber.Cmp(second.Certificates[0].Leaf.SerialNumber) != 0 {
		t.Fatalf("expected second call to reload the persisted certificate, got a different serial")
	}
}
