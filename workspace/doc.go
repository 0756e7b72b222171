// Package workspace hands out exclusively held, reusable output directories
// keyed by a caller-supplied content key.
//
// A build system computes a key from the inputs of an action, then asks the
// Provider for the matching workspace. The first caller for a key finds an
// empty directory and fills it; later callers find the same directory with
// the contents already in place and decide for themselves whether to reuse
// them.
//
// # Basic Usage
//
//	j, err := journal.OpenSQLite(journalPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer j.Close()
//
//	p, err := workspace.OpenWithBuiltInHistory(ctx, workspace.Options{
//	    Dir:              dir,
//	    Journal:          j,
//	    CleanupFrequency: cleanup.Daily,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	err = p.WithWorkspace(ctx, "ab12cd34", func(dir string, h history.Store) error {
//	    return os.WriteFile(filepath.Join(dir, "out.txt"), []byte("hello"), 0o644)
//	})
//
// # Storage
//
// Workspaces live at <dir>/<key>. The built-in history store is a second
// cache root at <dir>-history. Each root is cleaned on its own schedule:
// entries unused for longer than the retention are deleted unless someone
// holds them.
//
// # Concurrency
//
// At most one callback runs per key per machine. Calls for different keys
// never wait on each other. An action must not call WithWorkspace for its
// own key; doing so deadlocks.
package workspace
