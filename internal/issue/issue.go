// Package issue builds user-facing errors that name the failed operation, the
// resource involved and what to try next.
package issue

import (
	"errors"
	"fmt"
	"strings"
)

// ActionableError is returned to the CLI for failures a user can fix.
type ActionableError struct {
	Operation   string
	Resource    string
	Suggestions []string
	Cause       error
}

func (e *ActionableError) Error() string {
	var b strings.Builder
	b.WriteString("failed to ")
	b.WriteString(e.Operation)
	if e.Resource != "" {
		b.WriteString(": ")
		b.WriteString(e.Resource)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ActionableError) Unwrap() error { return e.Cause }

// Format renders the error with its suggestions. Verbose output also lists
// the wrapped error chain.
func (e *ActionableError) Format(verbose bool) string {
	var b strings.Builder
	b.WriteString(e.Error())
	if len(e.Suggestions) > 0 {
		b.WriteString("\n")
		for _, s := range e.Suggestions {
			b.WriteString("\n  • ")
			b.WriteString(s)
		}
	}
	if verbose && e.Cause != nil {
		b.WriteString("\n\nError chain:")
		depth := 1
		for err := e.Cause; err != nil; err = errors.Unwrap(err) {
			fmt.Fprintf(&b, "\n  %d. %s", depth, err.Error())
			depth++
		}
	}
	return b.String()
}

// Builder accumulates context for an ActionableError.
type Builder struct {
	err ActionableError
}

// New starts an error for operation, e.g. "assemble project".
func New(operation string) *Builder {
	return &Builder{err: ActionableError{Operation: operation}}
}

func (b *Builder) Resource(r string) *Builder {
	b.err.Resource = r
	return b
}

func (b *Builder) Suggest(s ...string) *Builder {
	b.err.Suggestions = append(b.err.Suggestions, s...)
	return b
}

func (b *Builder) Wrap(err error) *Builder {
	b.err.Cause = err
	return b
}

// Err returns the built error, or nil when no cause was wrapped.
func (b *Builder) Err() error {
	if b.err.Cause == nil {
		return nil
	}
	e := b.err
	e.Suggestions = append([]string(nil), b.err.Suggestions...)
	return &e
}

// Format renders any error: ActionableErrors with their suggestions, others
// as their message.
func Format(err error, verbose bool) string {
	var ae *ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}
