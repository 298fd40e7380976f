package convert

import (
	"fmt"
	"reflect"

	"github.com/devicelab-dev/stepbind/pkg/core"
)

// ConversionError reports a raw step argument that could not become the
// declared parameter type.
type ConversionError struct {
	Raw    string
	Target reflect.Type
	Cause  error
}

func (e *ConversionError) Error() string {
	target := "<nil>"
	if e.Target != nil {
		target = e.Target.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("cannot convert %q to %s: %v", e.Raw, target, e.Cause)
	}
	return fmt.Sprintf("cannot convert %q to %s", e.Raw, target)
}

// Unwrap exposes both the conversion sentinel and the underlying cause.
func (e *ConversionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{core.ErrArgumentConversion}
	}
	return []error{core.ErrArgumentConversion, e.Cause}
}

func conversionError(raw string, target reflect.Type, cause error) error {
	return &ConversionError{Raw: raw, Target: target, Cause: cause}
}
