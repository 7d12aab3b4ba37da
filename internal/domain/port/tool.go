package port

import "context"

// ToolRunner abstracts one external command-line tool. Adapters build their
// pipeline steps out of Invoke calls so the sequencing logic never depends on
// a specific binary's command syntax.
type ToolRunner interface {
	Name() string
	CheckAvailable() error
	Invoke(ctx context.Context, args ...string) (string, error)
}
