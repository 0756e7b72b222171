package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func TestTrackerNormalize(t *testing.T) {
	base := filepath.Join(string(filepath.Separator), "cache", "workspaces")

	cases := []struct {
		name  string
		depth int
		path  string
		want  string
		ok    bool
	}{
		{name: "entry itself", depth: 1, path: filepath.Join(base, "ab12"), want: filepath.Join(base, "ab12"), ok: true},
		{name: "descendant", depth: 1, path: filepath.Join(base, "ab12", "out", "file.txt"), want: filepath.Join(base, "ab12"), ok: true},
		{name: "depth two", depth: 2, path: filepath.Join(base, "ab", "cd34", "file.txt"), want: filepath.Join(base, "ab", "cd34"), ok: true},
		{name: "too shallow", depth: 2, path: filepath.Join(base, "ab"), ok: false},
		{name: "base", depth: 1, path: base, ok: false},
		{name: "outside", depth: 1, path: filepath.Join(string(filepath.Separator), "elsewhere", "ab12"), ok: false},
		{name: "sibling prefix", depth: 1, path: base + "-history" + string(filepath.Separator) + "ab12", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tracker := NewTracker(NewMemory(), base, tc.depth, nil)
			got, ok := tracker.Normalize(tc.path)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v (%q)", tc.ok, ok, got)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestTrackerMarkAccessedRecordsEntry(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	j := NewMemory()
	tracker := NewTracker(j, base, 1, func() time.Time { return now })

	if err := tracker.MarkAccessed(filepath.Join(base, "ab12", "nested")); err != nil {
		t.Fatalf("mark accessed: %v", err)
	}

	got, ok, _ := j.Lookup(filepath.Join(base, "ab12"))
	if !ok || !got.Equal(now) {
		t.Fatalf("expected %s recorded, got %s (ok=%v)", now, got, ok)
	}

	if err := tracker.MarkAccessed(base); err != nil {
		t.Fatalf("mark base: %v", err)
	}
	if _, ok, _ := j.Lookup(base); ok {
		t.Fatal("expected base to stay untracked")
	}
}

func TestNewTrackerClampsDepth(t *testing.T) {
	tracker := NewTracker(NewMemory(), t.TempDir(), 0, nil)
	if tracker.Depth() != 1 {
		t.Fatalf("expected depth 1, got %d", tracker.Depth())
	}
}

func TestTrackerForget(t *testing.T) {
	base := t.TempDir()
	j := NewMemory()
	tracker := NewTracker(j, base, 1, nil)

	entry := filepath.Join(base, "ab12")
	if err := tracker.MarkAccessed(filepath.Join(entry, "file.txt")); err != nil {
		t.Fatalf("mark accessed: %v", err)
	}
	if err := tracker.Forget(filepath.Join(entry, "file.txt")); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, ok, _ := j.Lookup(entry); ok {
		t.Fatal("expected entry to be forgotten")
	}
}
