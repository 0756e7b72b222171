package keys

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		key   string
		valid bool
	}{
		{key: "ab12cd34", valid: true},
		{key: "ab/12cd34", valid: true},
		{key: "with-dash_and.dot", valid: true},
		{key: "", valid: false},
		{key: "/abs", valid: false},
		{key: "a/../b", valid: false},
		{key: "..", valid: false},
		{key: ".", valid: false},
		{key: "./a", valid: false},
		{key: "a//b", valid: false},
		{key: "a/", valid: false},
		{key: `a\b`, valid: false},
		{key: "a\x00b", valid: false},
	}

	for _, tc := range cases {
		err := Validate(tc.key)
		if tc.valid && err != nil {
			t.Errorf("validate %q: unexpected error %v", tc.key, err)
		}
		if !tc.valid && !errors.Is(err, ErrInvalid) {
			t.Errorf("validate %q: expected ErrInvalid, got %v", tc.key, err)
		}
	}
}

func TestDepthAndJoin(t *testing.T) {
	if got := Depth("ab/cd"); got != 2 {
		t.Fatalf("expected depth 2, got %d", got)
	}
	if got := Join("/cache", "ab/cd"); got != filepath.Join("/cache", "ab", "cd") {
		t.Fatalf("unexpected join %s", got)
	}
}
