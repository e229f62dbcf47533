package overwrite

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPolicy indicates a policy string other than force, warn, skip or error.
	ErrInvalidPolicy = errors.New("invalid overwrite policy")

	// ErrOutputExists indicates the target exists and the policy forbids overwriting it.
	ErrOutputExists = errors.New("output exists")
)

// Policy governs what happens when an output already exists.
type Policy string

const (
	// Force overwrites silently.
	Force Policy = "force"
	// Warn overwrites after logging a warning at write time, and skips the
	// stage at pre-check time.
	Warn Policy = "warn"
	// Error refuses to overwrite.
	Error Policy = "error"
)

// ParsePolicy parses a policy name. Names are matched exactly; "skip" is
// accepted as an alias of warn.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case Force, Warn, Error:
		return p, nil
	case "skip":
		return Warn, nil
	}
	return "", fmt.Errorf("%w: %q (use force, warn or error)", ErrInvalidPolicy, s)
}

func (p Policy) String() string { return string(p) }
