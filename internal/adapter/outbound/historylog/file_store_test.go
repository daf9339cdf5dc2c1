package historylog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/one-ui/control-plane/internal/domain/updatehistory"
)

func makeEntry(ts time.Time, msg string) updatehistory.Entry {
	return updatehistory.Entry{
		ID:        msg,
		Level:     updatehistory.LevelInfo,
		Message:   msg,
		Timestamp: ts,
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "subdir", "history")
	s, err := Open(Config{Dir: dir, CacheSize: 10}, nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer func() { _ = s.Close() }()

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("directory not created: err=%v info=%v", err, info)
	}
}

func TestFileStore_AppendAndRecent(t *testing.T) {
	t.Parallel()
	s, err := Open(Config{Dir: t.TempDir(), CacheSize: 10}, nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer func() { _ = s.Close() }()

	now := time.Now().UTC()
	ctx := context.Background()
	for i, msg := range []string{"preflight ok", "canary started", "canary succeeded"} {
		if err := s.Append(ctx, makeEntry(now.Add(time.Duration(i)*time.Second), msg)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	recent := s.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if recent[0].Message != "canary succeeded" || recent[1].Message != "canary started" {
		t.Fatalf("expected newest-first ordering, got %+v", recent)
	}
}

func TestFileStore_RotatesOnDateChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir, CacheSize: 10}, nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer func() { _ = s.Close() }()

	today := time.Now().UTC()
	yesterday := today.AddDate(0, 0, -1)
	ctx := context.Background()

	if err := s.Append(ctx, makeEntry(yesterday, "old day")); err != nil {
		t.Fatalf("append yesterday: %v", err)
	}
	if err := s.Append(ctx, makeEntry(today, "today")); err != nil {
		t.Fatalf("append today: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 rotated files, got %d: %+v", len(entries), entries)
	}
}

func TestFileStore_PopulatesCacheFromDiskOnReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	now := time.Now().UTC()

	s1, err := Open(Config{Dir: dir, CacheSize: 10}, nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := s1.Append(context.Background(), makeEntry(now, "first")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(Config{Dir: dir, CacheSize: 10}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()

	recent := s2.Recent(10)
	if len(recent) != 1 || recent[0].Message != "first" {
		t.Fatalf("expected cache repopulated from disk, got %+v", recent)
	}
}

func TestFileStore_RetentionCleanupDeletesOldFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	staleDate := time.Now().UTC().AddDate(0, 0, -30).Format("2006-01-02")
	stalePath := filepath.Join(dir, "history-"+staleDate+".jsonl")
	if err := os.WriteFile(stalePath, []byte(`{"id":"x"}`+"\n"), 0600); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}

	s, err := Open(Config{Dir: dir, RetentionDays: 7, CacheSize: 10}, nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer func() { _ = s.Close() }()

	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Fatalf("expected stale file removed by retention sweep, stat err = %v", err)
	}
}
