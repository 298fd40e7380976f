// Package convert turns raw textual step arguments and data tables into the
// typed values a step binding declares.
package convert

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/devicelab-dev/stepbind/pkg/feature"
)

// Converter converts raw step arguments to parameter types.
type Converter interface {
	// Convert converts a raw argument (string, *feature.Table or
	// feature.DocString) to target using culture-aware parsing.
	Convert(value interface{}, target reflect.Type, culture language.Tag) (interface{}, error)
	// CanConvert reports whether Convert would succeed.
	CanConvert(value interface{}, target reflect.Type, culture language.Tag) bool
}

// CustomFunc converts a raw string to a complex type.
type CustomFunc func(raw string, culture language.Tag) (interface{}, error)

// TypeConverter is the default Converter. Custom converters are consulted
// before the built-in rules.
type TypeConverter struct {
	mu     sync.RWMutex
	custom map[reflect.Type]CustomFunc
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	unmarshaler  = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// New creates a TypeConverter with no custom converters.
func New() *TypeConverter {
	return &TypeConverter{custom: make(map[reflect.Type]CustomFunc)}
}

// Register adds a custom converter for target. Later registrations replace
// earlier ones for the same type.
func (c *TypeConverter) Register(target reflect.Type, fn CustomFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.custom[target] = fn
}

// RegisterFor registers a typed custom converter for T.
func RegisterFor[T any](c *TypeConverter, fn func(raw string, culture language.Tag) (T, error)) {
	c.Register(reflect.TypeOf((*T)(nil)).Elem(), func(raw string, culture language.Tag) (interface{}, error) {
		return fn(raw, culture)
	})
}

func (c *TypeConverter) customFor(target reflect.Type) (CustomFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.custom[target]
	return fn, ok
}

// CanConvert reports whether Convert would succeed.
func (c *TypeConverter) CanConvert(value interface{}, target reflect.Type, culture language.Tag) bool {
	_, err := c.Convert(value, target, culture)
	return err == nil
}

// Convert implements Converter.
func (c *TypeConverter) Convert(value interface{}, target reflect.Type, culture language.Tag) (interface{}, error) {
	if target == nil {
		return nil, conversionError(fmt.Sprint(value), nil, errors.New("no target type"))
	}
	if value == nil {
		return nil, conversionError("", target, errors.New("no value"))
	}

	if raw, ok := value.(string); ok {
		if fn, ok := c.customFor(target); ok {
			v, err := fn(raw, culture)
			if err != nil {
				return nil, conversionError(raw, target, err)
			}
			return v, nil
		}
	}

	if reflect.TypeOf(value).AssignableTo(target) {
		return value, nil
	}

	switch v := value.(type) {
	case string:
		out, err := c.convertString(v, target, culture)
		if err != nil {
			return nil, conversionError(v, target, err)
		}
		return out.Interface(), nil
	case feature.DocString:
		return c.Convert(v.Content, target, culture)
	case *feature.DocString:
		return c.Convert(*v, target, culture)
	case *feature.Table:
		out, err := c.convertTable(v, target, culture)
		if err != nil {
			return nil, conversionError("<table>", target, err)
		}
		return out.Interface(), nil
	case feature.Table:
		return c.Convert(&v, target, culture)
	}

	return nil, conversionError(fmt.Sprint(value), target, fmt.Errorf("unsupported argument type %T", value))
}

// convertString converts one raw cell or capture to target.
func (c *TypeConverter) convertString(raw string, target reflect.Type, culture language.Tag) (reflect.Value, error) {
	if fn, ok := c.customFor(target); ok {
		v, err := fn(raw, culture)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(v), nil
	}

	switch target {
	case timeType:
		t, err := parseTime(raw, culture)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(t), nil
	case durationType:
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(d), nil
	}

	if target.Kind() == reflect.Pointer {
		elem, err := c.convertString(raw, target.Elem(), culture)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	}

	// Enum-like types parse themselves.
	if reflect.PointerTo(target).Implements(unmarshaler) {
		ptr := reflect.New(target)
		if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
			return reflect.Value{}, err
		}
		return ptr.Elem(), nil
	}

	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.String:
		out.SetString(raw)
	case reflect.Bool:
		b, err := parseBool(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		num, err := normalizeNumber(raw, culture)
		if err != nil {
			return reflect.Value{}, err
		}
		n, err := strconv.ParseInt(num, 10, target.Bits())
		if err != nil {
			return reflect.Value{}, unwrapNumError(err)
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		num, err := normalizeNumber(raw, culture)
		if err != nil {
			return reflect.Value{}, err
		}
		n, err := strconv.ParseUint(num, 10, target.Bits())
		if err != nil {
			return reflect.Value{}, unwrapNumError(err)
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		num, err := normalizeNumber(raw, culture)
		if err != nil {
			return reflect.Value{}, err
		}
		f, err := strconv.ParseFloat(num, target.Bits())
		if err != nil {
			return reflect.Value{}, unwrapNumError(err)
		}
		out.SetFloat(f)
	case reflect.Interface:
		if target.NumMethod() != 0 {
			return reflect.Value{}, fmt.Errorf("no converter registered for %s", target)
		}
		out.Set(reflect.ValueOf(raw))
	default:
		return reflect.Value{}, fmt.Errorf("no converter registered for %s", target)
	}
	return out, nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(raw))
}

func parseTime(raw string, culture language.Tag) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayoutsFor(culture) {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a date in %s format", culture)
}

func unwrapNumError(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		return ne.Err
	}
	return err
}

// IsConvertibleKind reports whether a parameter of type t can ever receive a
// step argument. Functions, channels and unsafe pointers never can.
func IsConvertibleKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128, reflect.Invalid:
		return false
	case reflect.Pointer:
		return IsConvertibleKind(t.Elem())
	}
	return true
}

// IsMultilineKind reports whether a trailing parameter of type t can receive
// a step's data table or doc string: feature tables and doc strings, text,
// and the struct, slice and map shapes a table maps onto.
func IsMultilineKind(t reflect.Type) bool {
	if t == nil {
		return false
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return false
	}
	switch t.Kind() {
	case reflect.String, reflect.Struct, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	}
	return false
}
