package toolchain

import (
	"context"
	"fmt"
	"os/exec"
)

// MissingDependencyError signals a required external binary that is not on
// PATH. It is fatal: the worker refuses to start without its toolchain.
type MissingDependencyError struct {
	Tool string
	Hint string
}

func (e *MissingDependencyError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("required tool %q not found in PATH (%s)", e.Tool, e.Hint)
	}
	return fmt.Sprintf("required tool %q not found in PATH", e.Tool)
}

// Binary runs one external executable. It implements port.ToolRunner.
type Binary struct {
	name string
	hint string
}

func NewBinary(name string) *Binary {
	return &Binary{name: name}
}

// NewBinaryWithHint attaches an install hint surfaced when the tool is
// missing.
func NewBinaryWithHint(name, hint string) *Binary {
	return &Binary{name: name, hint: hint}
}

func (b *Binary) Name() string { return b.name }

func (b *Binary) CheckAvailable() error {
	if _, err := exec.LookPath(b.name); err != nil {
		return &MissingDependencyError{Tool: b.name, Hint: b.hint}
	}
	return nil
}

func (b *Binary) Invoke(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, b.name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s error: %w, output: %s", b.name, err, string(output))
	}
	return string(output), nil
}
