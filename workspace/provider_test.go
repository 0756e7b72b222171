package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amonks/workcache/cleanup"
	"github.com/amonks/workcache/history"
	"github.com/amonks/workcache/internal/metrics"
	"github.com/amonks/workcache/journal"
	"github.com/amonks/workcache/lock"
	"golang.org/x/sync/errgroup"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		return time.Now()
	}
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newProvider(t *testing.T, configure func(*Options)) *Provider {
	t.Helper()
	opts := Options{
		Dir:              filepath.Join(t.TempDir(), "workspaces"),
		Journal:          journal.NewMemory(),
		CleanupFrequency: cleanup.Never,
	}
	if configure != nil {
		configure(&opts)
	}
	p, err := OpenWithBuiltInHistory(context.Background(), opts)
	if err != nil {
		t.Fatalf("open provider: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestWithWorkspaceReusesDirectory(t *testing.T) {
	p := newProvider(t, nil)
	ctx := context.Background()

	err := p.WithWorkspace(ctx, "ab12cd34", func(dir string, h history.Store) error {
		return os.WriteFile(filepath.Join(dir, "out.txt"), []byte("hello"), 0o644)
	})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}

	got, err := With(ctx, p, "ab12cd34", func(dir string, h history.Store) (string, error) {
		data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
		return string(data), err
	})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
}

func TestWithWorkspaceDirectoryIsUnderRoot(t *testing.T) {
	p := newProvider(t, nil)

	err := p.WithWorkspace(context.Background(), "ab12cd34", func(dir string, h history.Store) error {
		if want := filepath.Join(p.Dir(), "ab12cd34"); dir != want {
			t.Errorf("expected %s, got %s", want, dir)
		}
		if !filepath.IsAbs(dir) {
			t.Errorf("expected absolute path, got %s", dir)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with workspace: %v", err)
	}
}

func TestDistinctKeysRunConcurrently(t *testing.T) {
	p := newProvider(t, nil)

	var entered sync.WaitGroup
	entered.Add(2)
	bothInside := make(chan struct{})
	go func() {
		entered.Wait()
		close(bothInside)
	}()

	g, ctx := errgroup.WithContext(context.Background())
	for _, key := range []string{"k1", "k2"} {
		g.Go(func() error {
			return p.WithWorkspace(ctx, key, func(dir string, h history.Store) error {
				entered.Done()
				select {
				case <-bothInside:
					return nil
				case <-time.After(5 * time.Second):
					return errors.New("distinct keys did not overlap")
				}
			})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestSameKeyNeverOverlaps(t *testing.T) {
	p := newProvider(t, nil)

	var active, maxActive atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for range 8 {
		g.Go(func() error {
			return p.WithWorkspace(ctx, "shared", func(dir string, h history.Store) error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("with workspace: %v", err)
	}
	if got := maxActive.Load(); got != 1 {
		t.Fatalf("expected at most one active action, saw %d", got)
	}
}

func TestSameKeyAcrossProviders(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "workspaces")
	j := journal.NewMemory()
	configure := func(o *Options) {
		o.Dir = dir
		o.Journal = j
	}
	p1 := newProvider(t, configure)
	p2 := newProvider(t, configure)

	release := make(chan struct{})
	held := make(chan struct{})
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return p1.WithWorkspace(ctx, "shared", func(string, history.Store) error {
			close(held)
			<-release
			return nil
		})
	})

	<-held
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := p2.WithWorkspace(short, "shared", func(string, history.Store) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected second provider to wait, got %v", err)
	}

	close(release)
	if err := g.Wait(); err != nil {
		t.Fatalf("holder: %v", err)
	}
	if err := p2.WithWorkspace(ctx, "shared", func(string, history.Store) error { return nil }); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestActionErrorReleasesLock(t *testing.T) {
	p := newProvider(t, func(o *Options) { o.LockTimeout = 200 * time.Millisecond })
	ctx := context.Background()
	boom := errors.New("boom")

	err := p.WithWorkspace(ctx, "k", func(string, history.Store) error { return boom })
	if err != boom {
		t.Fatalf("expected action error unchanged, got %v", err)
	}

	start := time.Now()
	if err := p.WithWorkspace(ctx, "k", func(string, history.Store) error { return nil }); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("expected immediate reacquire, took %s", elapsed)
	}
}

func TestLockTimeout(t *testing.T) {
	p := newProvider(t, func(o *Options) { o.LockTimeout = 30 * time.Millisecond })
	ctx := context.Background()

	err := p.WithWorkspace(ctx, "k", func(string, history.Store) error {
		done := make(chan error, 1)
		go func() {
			done <- p.WithWorkspace(ctx, "k", func(string, history.Store) error { return nil })
		}()
		return <-done
	})
	if !errors.Is(err, lock.ErrTimeout) {
		t.Fatalf("expected lock.ErrTimeout, got %v", err)
	}
}

func TestInvalidKeys(t *testing.T) {
	p := newProvider(t, nil)

	for _, key := range []string{"", "../escape", "/abs", "a/b", `a\b`} {
		called := false
		err := p.WithWorkspace(context.Background(), key, func(string, history.Store) error {
			called = true
			return nil
		})
		if !errors.Is(err, ErrInvalidKey) {
			t.Errorf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
		if called {
			t.Errorf("key %q: action must not run", key)
		}
	}

	entries, _ := os.ReadDir(p.Dir())
	for _, entry := range entries {
		if entry.IsDir() {
			t.Errorf("expected no workspace dirs, found %s", entry.Name())
		}
	}
}

func TestDepthTwoKeys(t *testing.T) {
	p := newProvider(t, func(o *Options) { o.Depth = 2 })

	err := p.WithWorkspace(context.Background(), "ab/12cd", func(dir string, h history.Store) error {
		if want := filepath.Join(p.Dir(), "ab", "12cd"); dir != want {
			t.Errorf("expected %s, got %s", want, dir)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with workspace: %v", err)
	}
	if err := p.WithWorkspace(context.Background(), "ab", func(string, history.Store) error { return nil }); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected shallow key to be rejected, got %v", err)
	}
}

func TestDirectoryCreationFailure(t *testing.T) {
	p := newProvider(t, nil)
	if err := os.WriteFile(filepath.Join(p.Dir(), "blocked"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := p.WithWorkspace(context.Background(), "blocked", func(string, history.Store) error {
		t.Error("action must not run")
		return nil
	})
	if err == nil {
		t.Fatal("expected creation error")
	}
	if _, statErr := os.Stat(filepath.Join(p.Dir(), "blocked.lock")); statErr == nil {
		t.Fatal("expected no lock file for a failed workspace")
	}
}

func TestCleanupRemovesStaleWorkspaces(t *testing.T) {
	c := &clock{}
	j := journal.NewMemory()
	p := newProvider(t, func(o *Options) {
		o.Journal = j
		o.MaxAge = 24 * time.Hour
		o.Now = c.Now
	})
	ctx := context.Background()
	noop := func(string, history.Store) error { return nil }

	c.Set(time.Now().Add(-10 * 24 * time.Hour))
	if err := p.WithWorkspace(ctx, "a", noop); err != nil {
		t.Fatalf("a: %v", err)
	}
	c.Set(time.Now().Add(-time.Hour))
	if err := p.WithWorkspace(ctx, "b", noop); err != nil {
		t.Fatalf("b: %v", err)
	}
	c.Set(time.Time{})

	res, err := p.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("expected one deletion, got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(p.Dir(), "a")); !os.IsNotExist(err) {
		t.Error("expected a to be deleted")
	}
	if _, err := os.Stat(filepath.Join(p.Dir(), "b")); err != nil {
		t.Error("expected b to remain")
	}

	res, err = p.Cleanup(ctx)
	if err != nil || res.Deleted != 0 {
		t.Fatalf("expected idempotent second pass, got %+v, %v", res, err)
	}
}

func TestHeldWorkspaceSurvivesCleanup(t *testing.T) {
	c := &clock{}
	j := journal.NewMemory()
	p := newProvider(t, func(o *Options) {
		o.Journal = j
		o.MaxAge = 24 * time.Hour
		o.Now = c.Now
	})
	ctx := context.Background()
	c.Set(time.Now().Add(-10 * 24 * time.Hour))

	err := p.WithWorkspace(ctx, "busy", func(dir string, h history.Store) error {
		c.Set(time.Time{})

		if _, err := p.Cleanup(ctx); !errors.Is(err, ErrBusy) {
			t.Errorf("expected root-level cleanup to back off, got %v", err)
		}

		lru := cleanup.NewLRU(cleanup.LRUOptions{Journal: j, MaxAge: 24 * time.Hour, Locks: lock.NewFileManager(lock.ManagerOptions{})})
		res, err := lru.Clean(ctx, p.root)
		if err != nil {
			return err
		}
		if res.Skipped != 1 || res.Deleted != 0 {
			t.Errorf("expected the held workspace to be skipped, got %+v", res)
		}
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("expected held workspace to survive: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with workspace: %v", err)
	}
}

type failingJournal struct {
	journal.Journal
}

func (failingJournal) Record(string, time.Time) error { return errors.New("disk full") }

type countingRecorder struct {
	metrics.NoopRecorder
	journalFailures atomic.Int32
	acquired        atomic.Int32
	created         atomic.Int32
}

func (r *countingRecorder) IncJournalWriteFailure() { r.journalFailures.Add(1) }

func (r *countingRecorder) IncWorkspaceAcquired(created bool) {
	r.acquired.Add(1)
	if created {
		r.created.Add(1)
	}
}

func TestJournalFailureIsNotFatal(t *testing.T) {
	rec := &countingRecorder{}
	p := newProvider(t, func(o *Options) {
		o.Journal = failingJournal{Journal: journal.NewMemory()}
		o.Recorder = rec
	})

	ran := false
	err := p.WithWorkspace(context.Background(), "k", func(string, history.Store) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("expected action to run despite journal failure, ran=%v err=%v", ran, err)
	}
	if got := rec.journalFailures.Load(); got != 1 {
		t.Fatalf("expected one journal failure, got %d", got)
	}
}

func TestAcquisitionMetrics(t *testing.T) {
	rec := &countingRecorder{}
	p := newProvider(t, func(o *Options) { o.Recorder = rec })
	noop := func(string, history.Store) error { return nil }

	for range 2 {
		if err := p.WithWorkspace(context.Background(), "k", noop); err != nil {
			t.Fatalf("with workspace: %v", err)
		}
	}
	if rec.acquired.Load() != 2 || rec.created.Load() != 1 {
		t.Fatalf("expected 2 acquisitions with 1 creation, got %d/%d", rec.acquired.Load(), rec.created.Load())
	}
}

func TestBuiltInHistoryPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "workspaces")
	j := journal.NewMemory()
	configure := func(o *Options) {
		o.Dir = dir
		o.Journal = j
	}
	ctx := context.Background()
	rec := history.Record{Key: "k", Outcome: history.OutcomeSuccess, OriginID: "first"}

	p := newProvider(t, configure)
	err := p.WithWorkspace(ctx, "k", func(_ string, h history.Store) error {
		return h.Store("k", rec)
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir+"-history", "k", "record.bin")); err != nil {
		t.Fatalf("expected record in sibling history root: %v", err)
	}

	p = newProvider(t, configure)
	got, ok, err := p.History().Load("k")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.OriginID != "first" {
		t.Fatalf("expected stored record, got %+v", got)
	}
}

func TestExternalHistoryIsForwarded(t *testing.T) {
	store := history.NewMemory()
	p, err := OpenWithExternalHistory(context.Background(), Options{
		Dir:              filepath.Join(t.TempDir(), "workspaces"),
		Journal:          journal.NewMemory(),
		CleanupFrequency: cleanup.Never,
	}, store)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	err = p.WithWorkspace(context.Background(), "k", func(_ string, h history.Store) error {
		if h != history.Store(store) {
			t.Error("expected the external store to be forwarded")
		}
		return h.Store("k", history.Record{Key: "k"})
	})
	if err != nil {
		t.Fatalf("with workspace: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, ok, err := store.Load("k"); err != nil || !ok {
		t.Fatalf("expected external store to stay usable after close, ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(p.Dir() + "-history")); !os.IsNotExist(err) {
		t.Fatal("expected no built-in history root")
	}
	if _, err := p.CleanupHistory(context.Background()); err != nil {
		t.Fatalf("cleanup history: %v", err)
	}
}

func TestClose(t *testing.T) {
	p := newProvider(t, nil)

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	err := p.WithWorkspace(context.Background(), "k", func(string, history.Store) error { return nil })
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := p.Cleanup(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from cleanup, got %v", err)
	}
}

func TestCloseWaitsForRunningAction(t *testing.T) {
	p := newProvider(t, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- p.WithWorkspace(context.Background(), "k", func(dir string, h history.Store) error {
			close(entered)
			<-release
			return h.Store("k", history.Record{Key: "k", Outcome: history.OutcomeSuccess})
		})
	}()
	<-entered

	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()

	select {
	case err := <-closed:
		t.Fatalf("close returned while an action was running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("action after close started: %v", err)
	}
	if err := <-closed; err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenValidatesOptions(t *testing.T) {
	if _, err := OpenWithBuiltInHistory(context.Background(), Options{Journal: journal.NewMemory()}); err == nil {
		t.Fatal("expected error without dir")
	}
	if _, err := OpenWithBuiltInHistory(context.Background(), Options{Dir: t.TempDir()}); err == nil {
		t.Fatal("expected error without journal")
	}
	if _, err := OpenWithExternalHistory(context.Background(), Options{Dir: t.TempDir(), Journal: journal.NewMemory()}, nil); err == nil {
		t.Fatal("expected error without history store")
	}
}

func TestWithReturnsZeroOnError(t *testing.T) {
	p := newProvider(t, nil)
	boom := errors.New("boom")

	got, err := With(context.Background(), p, "k", func(string, history.Store) (int, error) {
		return 42, boom
	})
	if !errors.Is(err, boom) || got != 0 {
		t.Fatalf("expected zero value and boom, got %d, %v", got, err)
	}
}
