package filerepoconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vaultfs/filerepo/internal/filerepo"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DEE_FILEREPO_BASE_DIRECTORY",
		"DEE_FILEREPO_DELETE_DELAY",
		"DEE_FILEREPO_INDETERMINATE_DELAY",
		"DEE_FILEREPO_HEALTH_CHECK_INTERVAL",
		"DEE_FILEREPO_MAX_ACCESS_WAIT_OR_RETRY",
		"DEE_FILEREPO_MARKER_FILE_LOGGING",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	opts, src, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if src.Origin != "default" {
		t.Fatalf("expected default origin, got %s", src.Origin)
	}
	if opts.BaseDirectory != dir {
		t.Fatalf("expected base dir %s, got %s", dir, opts.BaseDirectory)
	}
	if opts.DeleteDelay != 0 {
		t.Fatalf("expected zero delete delay, got %v", opts.DeleteDelay)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	content := "delete_delay: 30s\nindeterminate_delay: 48h\nmarker_file_logging: human_readable\n"
	if err := os.WriteFile(filepath.Join(dir, "vaultfs.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	opts, src, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if src.Origin != "file" {
		t.Fatalf("expected file origin, got %s", src.Origin)
	}
	if opts.DeleteDelay != 30*time.Second {
		t.Fatalf("unexpected delete delay: %v", opts.DeleteDelay)
	}
	if opts.IndeterminateDelay != 48*time.Hour {
		t.Fatalf("unexpected indeterminate delay: %v", opts.IndeterminateDelay)
	}
	if opts.MarkerFileLogging != filerepo.MarkerLoggingHumanReadable {
		t.Fatalf("expected human-readable marker logging, got %v", opts.MarkerFileLogging)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	content := "delete_delay: 30s\n"
	if err := os.WriteFile(filepath.Join(dir, "vaultfs.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEE_FILEREPO_DELETE_DELAY", "5m")

	opts, src, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if src.Origin != "env" {
		t.Fatalf("expected env origin, got %s", src.Origin)
	}
	if opts.DeleteDelay != 5*time.Minute {
		t.Fatalf("expected env override to win, got %v", opts.DeleteDelay)
	}
}

func TestBareIntegerMeansSeconds(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("DEE_FILEREPO_HEALTH_CHECK_INTERVAL", "45")

	opts, _, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if opts.HealthCheckInterval != 45*time.Second {
		t.Fatalf("expected 45s, got %v", opts.HealthCheckInterval)
	}
}

func TestInvalidDurationFails(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("DEE_FILEREPO_DELETE_DELAY", "not-a-duration")

	if _, _, err := Load(dir); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
