package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amonks/workcache/history"
)

func TestListReportsWorkspaces(t *testing.T) {
	p := newProvider(t, nil)
	ctx := context.Background()

	for _, key := range []string{"beta", "alpha"} {
		if err := p.WithWorkspace(ctx, key, func(string, history.Store) error { return nil }); err != nil {
			t.Fatalf("acquire %s: %v", key, err)
		}
	}

	// A directory created behind the provider's back has no journal entry.
	if err := os.MkdirAll(filepath.Join(p.Dir(), "gamma"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p.Dir(), "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	infos, err := p.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 workspaces, got %+v", infos)
	}

	wantKeys := []string{"alpha", "beta", "gamma"}
	for i, info := range infos {
		if info.Key != wantKeys[i] {
			t.Fatalf("expected key %s at %d, got %s", wantKeys[i], i, info.Key)
		}
		want, err := p.Path(info.Key)
		if err != nil {
			t.Fatalf("path %s: %v", info.Key, err)
		}
		if info.Path != want {
			t.Fatalf("expected path %s, got %s", want, info.Path)
		}
		if info.LastAccess.IsZero() {
			t.Fatalf("expected last access for %s", info.Key)
		}
		if info.InUse {
			t.Fatalf("expected %s to be idle", info.Key)
		}
	}
	if !infos[0].Journaled || !infos[1].Journaled {
		t.Fatalf("expected acquired workspaces to be journaled: %+v", infos)
	}
	if infos[2].Journaled {
		t.Fatalf("expected untracked workspace to fall back to mtime: %+v", infos[2])
	}
}

func TestListMarksHeldWorkspaceInUse(t *testing.T) {
	p := newProvider(t, nil)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- p.WithWorkspace(ctx, "busy", func(string, history.Store) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	if err := p.WithWorkspace(ctx, "idle", func(string, history.Store) error { return nil }); err != nil {
		t.Fatalf("acquire idle: %v", err)
	}

	infos, err := p.List(ctx)
	close(release)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("held workspace: %v", err)
	}

	inUse := map[string]bool{}
	for _, info := range infos {
		inUse[info.Key] = info.InUse
	}
	if !inUse["busy"] {
		t.Fatalf("expected busy to be in use: %+v", infos)
	}
	if inUse["idle"] {
		t.Fatalf("expected idle to be free: %+v", infos)
	}
}

func TestListEmptyAndClosed(t *testing.T) {
	p := newProvider(t, nil)

	infos, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected no workspaces, got %+v", infos)
	}

	p.Close()
	if _, err := p.List(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestListLeavesUntrackedWorkspacesUntouched(t *testing.T) {
	p := newProvider(t, func(o *Options) { o.MaxAge = 24 * time.Hour })
	ctx := context.Background()

	stale := filepath.Join(p.Dir(), "stale")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-10 * 24 * time.Hour).Truncate(time.Second)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	infos, err := p.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].InUse {
		t.Fatalf("expected one idle workspace, got %+v", infos)
	}

	entries, err := os.ReadDir(stale)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected listing to leave the workspace empty, found %s", entries[0].Name())
	}
	info, err := os.Stat(stale)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(old) {
		t.Fatalf("expected mtime %s to survive listing, got %s", old, info.ModTime())
	}

	res, err := p.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("expected stale workspace to be deleted, got %+v", res)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale workspace to be gone, got %v", err)
	}
}
