package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/dcshock/pipectl/config"
	"github.com/dcshock/pipectl/overwrite"
)

// Invocation is everything a unit receives for one attempt of one stage.
// Tree and Config are shared between concurrent stages and must not be modified.
type Invocation struct {
	Module  ModuleID
	RunID   string
	Attempt int

	Tree   *config.Tree
	Config *config.Config
	Logger *slog.Logger

	// OutputDir is the absolute module_<letter> directory. It is not created
	// ahead of time; write through Resolver so the overwrite policy applies.
	OutputDir string
	Resolver  *overwrite.Resolver
	// Policy is the run's overwrite policy, for Resolver.Resolve.
	Policy overwrite.Policy
}

// Resolve resolves name inside the output directory under the run's policy.
func (inv *Invocation) Resolve(name string) (string, error) {
	return inv.Resolver.Resolve(filepath.Join(inv.OutputDir, name), inv.Policy.String())
}

// Unit is a stage body. A nil error means the stage succeeded.
type Unit func(ctx context.Context, inv *Invocation) error

// WithTimeout wraps inner so it runs with a context deadline of now+timeout.
// A zero or negative timeout returns inner unchanged.
func WithTimeout(inner Unit, timeout time.Duration) Unit {
	if timeout <= 0 {
		return inner
	}
	return func(ctx context.Context, inv *Invocation) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return inner(ctx, inv)
	}
}

// PanicError is returned in place of a panic raised inside a unit.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Recover wraps inner so a panic comes back as a *PanicError.
func Recover(inner Unit) Unit {
	return func(ctx context.Context, inv *Invocation) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		return inner(ctx, inv)
	}
}
