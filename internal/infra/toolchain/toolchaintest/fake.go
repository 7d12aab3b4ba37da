// Package toolchaintest provides a scriptable ToolRunner for adapter tests.
package toolchaintest

import (
	"context"
	"strings"
)

// Call is one recorded Invoke.
type Call struct {
	Args []string
}

// FakeRunner records invocations and answers them via Respond. With no
// matching responder it returns empty output and no error.
type FakeRunner struct {
	Tool      string
	Missing   error
	Calls     []Call
	Responder func(args []string) (string, error)
}

func (f *FakeRunner) Name() string { return f.Tool }

func (f *FakeRunner) CheckAvailable() error { return f.Missing }

func (f *FakeRunner) Invoke(_ context.Context, args ...string) (string, error) {
	f.Calls = append(f.Calls, Call{Args: args})
	if f.Responder != nil {
		return f.Responder(args)
	}
	return "", nil
}

// CallLines renders each recorded call as a single space-joined line, which
// keeps assertions on full command shapes readable.
func (f *FakeRunner) CallLines() []string {
	lines := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		lines[i] = strings.Join(c.Args, " ")
	}
	return lines
}
