package conditioner

import (
	"errors"
	"fmt"
)

var (
	ErrNoTracks      = errors.New("no reference tracks uploaded")
	ErrTooManyTracks = errors.New("too many reference tracks")
	ErrTooLarge      = errors.New("reference tracks too large")
)

// InputError reports a track set that violates the upload limits.
// Nothing is decoded when it is returned.
type InputError struct {
	Err    error
	Detail string
}

func (e *InputError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Detail)
}

func (e *InputError) Unwrap() error { return e.Err }

// DecodeError reports a track that could not be decoded.
type DecodeError struct {
	Index int // zero-based upload position
	Name  string
	Err   error
}

func (e *DecodeError) Error() string {
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("track %d", e.Index+1)
	}
	return fmt.Sprintf("decode %s: %v", name, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
