package cli

import (
	"errors"
	"fmt"

	"github.com/mark3labs/docshift/internal/codec"
	"github.com/mark3labs/docshift/internal/schema"
)

var ErrUsage = errors.New("cli usage error")

type usageError struct {
	msg string
}

func newUsageError(msg string) error {
	return usageError{msg: msg}
}

func (e usageError) Error() string {
	return e.msg
}

func (e usageError) Is(target error) bool {
	return target == ErrUsage
}

// friendlyError turns structured schema and codec failures into usage
// errors that name the document and the offending $ref.
func friendlyError(err error) error {
	var se *schema.SchemaError
	if errors.As(err, &se) {
		msg := fmt.Sprintf("schema: %s", se.Message)
		if se.Location != "" {
			msg = fmt.Sprintf("%s\nLocation: %s", msg, se.Location)
		}
		if se.Ref != "" {
			msg = fmt.Sprintf("%s\nRef: %s", msg, se.Ref)
		}
		return newUsageError(msg)
	}
	var ce *codec.Error
	if errors.As(err, &ce) {
		return newUsageError(fmt.Sprintf("convert: %s", ce.Message))
	}
	return err
}
