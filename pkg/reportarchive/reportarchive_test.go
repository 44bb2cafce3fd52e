package reportarchive

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestStoreAndRead(t *testing.T) {
	dir := t.TempDir()
	archive := New(dir, 10)

	lines := []string{
		"Albums/New Album/01 - Opener.flac",
		"Total transferred file size: 98,765,432 bytes",
	}
	path, err := archive.Store(time.Date(2026, 8, 30, 12, 30, 0, 0, time.UTC), "initial", lines)
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	if filepath.Base(path) != "sync-20260830-123000-initial.log.gz" {
		t.Errorf("report file name = %q", filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("report file missing: %v", err)
	}

	got, err := archive.Read(path)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !reflect.DeepEqual(got, lines) {
		t.Errorf("Read() = %v, want %v", got, lines)
	}
}

func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	archive := New(dir, 10)

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := archive.Store(base.Add(time.Duration(i)*time.Hour), "resync", []string{"x"}); err != nil {
			t.Fatalf("Store() error: %v", err)
		}
	}

	reports, err := archive.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("List() returned %d reports, want 3", len(reports))
	}
	if !strings.Contains(reports[0], "120000") || !strings.Contains(reports[2], "100000") {
		t.Errorf("List() not newest first: %v", reports)
	}
}

func TestPrune(t *testing.T) {
	t.Run("keeps only the newest reports", func(t *testing.T) {
		dir := t.TempDir()
		archive := New(dir, 3)

		base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 6; i++ {
			if _, err := archive.Store(base.Add(time.Duration(i)*time.Hour), "resync", []string{"x"}); err != nil {
				t.Fatalf("Store() error: %v", err)
			}
		}

		reports, err := archive.List()
		if err != nil {
			t.Fatalf("List() error: %v", err)
		}
		if len(reports) != 3 {
			t.Fatalf("kept %d reports, want 3: %v", len(reports), reports)
		}
		// The survivors are the three most recent runs.
		for _, want := range []string{"050000", "040000", "030000"} {
			found := false
			for _, r := range reports {
				if strings.Contains(r, want) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected a surviving report for %s, got %v", want, reports)
			}
		}
	})

	t.Run("keep zero disables pruning", func(t *testing.T) {
		dir := t.TempDir()
		archive := New(dir, 0)

		base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 4; i++ {
			if _, err := archive.Store(base.Add(time.Duration(i)*time.Hour), "resync", []string{"x"}); err != nil {
				t.Fatalf("Store() error: %v", err)
			}
		}

		reports, err := archive.List()
		if err != nil {
			t.Fatalf("List() error: %v", err)
		}
		if len(reports) != 4 {
			t.Errorf("kept %d reports, want all 4", len(reports))
		}
	})
}

func TestModeTag(t *testing.T) {
	if got := ModeTag(" Initial Sync "); got != "initial-sync" {
		t.Errorf("ModeTag() = %q, want %q", got, "initial-sync")
	}
}
