package model

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateType          = errors.New("type already defined")
	ErrUnknownType            = errors.New("unknown type")
	ErrDuplicateProperty      = errors.New("property already defined")
	ErrUnknownProperty        = errors.New("unknown property")
	ErrInvalidID              = errors.New("invalid object id")
	ErrDuplicateID            = errors.New("object id already registered")
	ErrNotRegistered          = errors.New("object not registered")
	ErrWrongType              = errors.New("value is not of the expected type")
	ErrListNotLoaded          = errors.New("list is not loaded")
	ErrDuplicateConditionType = errors.New("condition type already defined")
	ErrDuplicateRule          = errors.New("rule already registered")
)

// PathError describes a property path that could not be resolved against
// a type. Missing names the type that was not found, if any.
type PathError struct {
	Path    string
	Type    string
	Step    string
	Missing string
	Err     error
}

func (e *PathError) Error() string {
	msg := fmt.Sprintf("path %q on type %s, step %q: %v", e.Path, e.Type, e.Step, e.Err)
	if e.Missing != "" {
		msg += " (" + e.Missing + ")"
	}
	return msg
}

func (e *PathError) Unwrap() error { return e.Err }

// FormatError is a recoverable conversion failure for user-entered text.
// It is surfaced as a condition rather than returned to the caller.
type FormatError struct {
	Message string
	Value   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %q", e.Message, e.Value)
}
