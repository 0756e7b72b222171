package main

import "fmt"

// exitError carries a child process's exit status out of a command. It has
// no message of its own, so main exits quietly with the code.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e exitError) ExitCode() int {
	return e.code
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) String() string {
	return fmt.Sprintf("exit %d", e.code)
}
