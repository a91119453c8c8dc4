// Package fault classifies fatal conversion errors so operators can tell bad
// data from broken software.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// Input is malformed or out-of-range source data.
	Input Kind = "fatal_input"
	// Codec is a failure to encode or write an artifact.
	Codec Kind = "fatal_codec"
	// Structural is a post-encode check failure on written artifacts.
	Structural Kind = "fatal_structural"
)

// Error carries the kind and, when known, the offending entity.
type Error struct {
	Kind   Kind
	Entity string
	Err    error
}

func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Entity, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewInput(entity string, err error) error {
	return &Error{Kind: Input, Entity: entity, Err: err}
}

func NewCodec(entity string, err error) error {
	return &Error{Kind: Codec, Entity: entity, Err: err}
}

func NewStructural(entity string, err error) error {
	return &Error{Kind: Structural, Entity: entity, Err: err}
}

// KindOf returns the kind of the first fault.Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}
