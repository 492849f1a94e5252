// Package fault classifies the failures a session can surface.
//
// Validation and remote failures interrupt the user with a notice. Media and
// partial extraction failures degrade inline and never undo text a pipeline
// already obtained.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies how a failure should be presented.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindRemote            Kind = "remote"
	KindMedia             Kind = "media"
	KindPartialExtraction Kind = "partial_extraction"
)

// Shape narrows a media failure down to what the speech service returned.
type Shape string

const (
	ShapeNone        Shape = ""
	ShapeStatus      Shape = "status"
	ShapeNotAudio    Shape = "not_audio"
	ShapeEmptyAudio  Shape = "empty_audio"
	ShapeUnavailable Shape = "unavailable"
)

// Error is the common failure type returned across session packages.
type Error struct {
	Kind  Kind
	Op    string
	Msg   string
	Shape Shape
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		fmt.Fprintf(&b, "%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Notice returns the text shown to the user, without the operation prefix.
func (e *Error) Notice() string {
	if e == nil {
		return ""
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// Validation reports missing or malformed user input. It never reaches the network.
func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

// Remote wraps a non-success response or an error embedded in a success payload.
func Remote(op, msg string, err error) *Error {
	return &Error{Kind: KindRemote, Op: op, Msg: msg, Err: err}
}

// Media reports a speech synthesis failure.
func Media(op string, shape Shape, msg string, err error) *Error {
	return &Error{Kind: KindMedia, Op: op, Shape: shape, Msg: msg, Err: err}
}

// Partial reports attachments whose extraction failed during a fan-out.
func Partial(op string, names []string, err error) *Error {
	msg := fmt.Sprintf("text unavailable for %d attachment(s): %s", len(names), strings.Join(names, ", "))
	return &Error{Kind: KindPartialExtraction, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ShapeOf returns the media shape of err, or ShapeNone.
func ShapeOf(err error) Shape {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Shape
	}
	return ShapeNone
}

// Blocking reports whether err should interrupt the user with a notice.
// Unclassified errors block.
func Blocking(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindMedia, KindPartialExtraction:
		return false
	default:
		return true
	}
}

// Message returns the user-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Notice()
	}
	return err.Error()
}
