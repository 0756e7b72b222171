package paths

import (
	"path/filepath"
	"testing"
)

func TestDefaultsUseHome(t *testing.T) {
	home := filepath.Join("/tmp", "test-home")
	t.Setenv("HOME", home)

	cases := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{name: "home", fn: HomeDir, want: home},
		{name: "state", fn: DefaultStateDir, want: filepath.Join(home, ".local", "state", "workcache")},
		{name: "workspaces", fn: DefaultWorkspacesDir, want: filepath.Join(home, ".local", "share", "workcache", "workspaces")},
		{name: "journal", fn: DefaultJournalPath, want: filepath.Join(home, ".local", "state", "workcache", "journal.db")},
		{name: "config", fn: GlobalConfigPath, want: filepath.Join(home, ".config", "workcache", "config.toml")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.fn()
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestHistoryDir(t *testing.T) {
	if got := HistoryDir("/cache/workspaces/"); got != "/cache/workspaces-history" {
		t.Fatalf("expected sibling history dir, got %s", got)
	}
}

func TestExpandHome(t *testing.T) {
	home := filepath.Join("/tmp", "test-home")
	t.Setenv("HOME", home)

	cases := map[string]string{
		"~":             home,
		"~/cache":       filepath.Join(home, "cache"),
		"/abs/path":     "/abs/path",
		"relative/path": "relative/path",
		"~user/cache":   "~user/cache",
	}
	for in, want := range cases {
		got, err := ExpandHome(in)
		if err != nil {
			t.Fatalf("expand %q: %v", in, err)
		}
		if got != want {
			t.Errorf("expand %q: expected %s, got %s", in, want, got)
		}
	}
}
