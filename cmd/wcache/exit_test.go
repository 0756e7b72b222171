package main

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitErrorIsQuietWithoutCause(t *testing.T) {
	err := exitError{code: 3}
	if err.Error() != "" {
		t.Fatalf("expected empty message, got %q", err.Error())
	}
	if err.ExitCode() != 3 {
		t.Fatalf("expected code 3, got %d", err.ExitCode())
	}
}

func TestExitErrorSurvivesWrapping(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("run: %w", exitError{code: 2, err: cause})

	var coded interface{ ExitCode() int }
	if !errors.As(err, &coded) {
		t.Fatal("expected wrapped error to expose ExitCode")
	}
	if coded.ExitCode() != 2 {
		t.Fatalf("expected code 2, got %d", coded.ExitCode())
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
}
