package manifest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidManifest = errors.New("invalid manifest")
	ErrCycleFound      = errors.New("dependency cycle detected")
)

// Error wraps deterministic manifest validation failures.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &Error{Kind: ErrInvalidManifest, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &Error{Kind: ErrCycleFound, Msg: msg}
}
