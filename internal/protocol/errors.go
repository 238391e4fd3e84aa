package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAction is matched by every error caused by an unrecognised tag.
	ErrUnknownAction = errors.New("unknown action")
	// ErrMalformedPayload is matched by every error caused by a frame of the wrong length.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrEmptyFrame is returned for a zero-length frame. It matches ErrUnknownAction.
	ErrEmptyFrame = fmt.Errorf("%w: empty frame", ErrUnknownAction)
)

// UnknownActionError reports a tag byte that does not map to an Action.
type UnknownActionError struct {
	Tag byte
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action: tag %d", e.Tag)
}

func (e *UnknownActionError) Unwrap() error { return ErrUnknownAction }

// MalformedPayloadError reports a frame whose length does not match its action.
// Expected and Actual are full frame lengths, tag included.
type MalformedPayloadError struct {
	Action   Action
	Expected int
	Actual   int
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload for %s: expected %d bytes, got %d", e.Action, e.Expected, e.Actual)
}

func (e *MalformedPayloadError) Unwrap() error { return ErrMalformedPayload }
