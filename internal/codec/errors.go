package codec

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/docshift/internal/format"
)

// ErrorCode categorizes codec failures.
type ErrorCode string

const (
	ParseFailed  ErrorCode = "ParseFailed"
	Unsupported  ErrorCode = "Unsupported"
	RenderFailed ErrorCode = "RenderFailed"
)

// ErrUnsupportedConversion matches any Error with the Unsupported code.
var ErrUnsupportedConversion = errors.New("unsupported conversion")

// Error is a parse or conversion failure. From and To name the edge; for
// parse failures To is empty.
type Error struct {
	Code    ErrorCode
	From    format.Format
	To      format.Format
	Message string
	Cause   error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	return target == ErrUnsupportedConversion && e.Code == Unsupported
}

// StatusCode maps the failure onto the HTTP status served for it.
func (e *Error) StatusCode() int {
	switch e.Code {
	case ParseFailed:
		return http.StatusBadGateway
	case Unsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func unsupported(from, to format.Format) error {
	return &Error{
		Code:    Unsupported,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("unsupported conversion from %s to %s", from, to),
	}
}

func parseFailed(f format.Format, cause error) error {
	return &Error{
		Code:    ParseFailed,
		From:    f,
		Message: fmt.Sprintf("parse %s: %v", f, cause),
		Cause:   cause,
	}
}

func renderFailed(from, to format.Format, cause error) error {
	return &Error{
		Code:    RenderFailed,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("convert %s to %s: %v", from, to, cause),
		Cause:   cause,
	}
}
