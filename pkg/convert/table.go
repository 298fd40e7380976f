package convert

import (
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/devicelab-dev/stepbind/pkg/feature"
)

// CreateSet maps every table row onto a new T.
func CreateSet[T any](c *TypeConverter, table *feature.Table, culture language.Tag) ([]T, error) {
	v, err := c.Convert(table, reflect.TypeOf([]T(nil)), culture)
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}

// CreateInstance maps a horizontal single-row table or a vertical
// field/value table onto a new T.
func CreateInstance[T any](c *TypeConverter, table *feature.Table, culture language.Tag) (T, error) {
	var zero T
	v, err := c.Convert(table, reflect.TypeOf(zero), culture)
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

func (c *TypeConverter) convertTable(table *feature.Table, target reflect.Type, culture language.Tag) (reflect.Value, error) {
	if target == reflect.TypeOf(feature.Table{}) {
		return reflect.ValueOf(*table), nil
	}

	switch target.Kind() {
	case reflect.Pointer:
		if target.Elem().Kind() != reflect.Struct {
			break
		}
		elem, err := c.convertTable(table, target.Elem(), culture)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	case reflect.Slice:
		return c.tableToSlice(table, target, culture)
	case reflect.Struct:
		return c.tableToStruct(table, target, culture)
	case reflect.Map:
		return c.tableToMap(table, target, culture)
	}
	return reflect.Value{}, fmt.Errorf("tables cannot be converted to %s", target)
}

func (c *TypeConverter) tableToSlice(table *feature.Table, target reflect.Type, culture language.Tag) (reflect.Value, error) {
	elem := target.Elem()
	out := reflect.MakeSlice(target, 0, table.RowCount())

	structElem := elem
	if structElem.Kind() == reflect.Pointer {
		structElem = structElem.Elem()
	}

	if structElem.Kind() != reflect.Struct || structElem == timeType {
		// A list of scalars reads the first column.
		for i, row := range table.Rows {
			if len(row) == 0 {
				return reflect.Value{}, fmt.Errorf("row %d is empty", i+1)
			}
			v, err := c.convertString(row[0], elem, culture)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("row %d: %w", i+1, err)
			}
			out = reflect.Append(out, v)
		}
		return out, nil
	}

	for i := range table.Rows {
		item := reflect.New(structElem).Elem()
		if err := c.fillStruct(item, table.Header, table.Rows[i], culture); err != nil {
			return reflect.Value{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		if elem.Kind() == reflect.Pointer {
			out = reflect.Append(out, item.Addr())
		} else {
			out = reflect.Append(out, item)
		}
	}
	return out, nil
}

func (c *TypeConverter) tableToStruct(table *feature.Table, target reflect.Type, culture language.Tag) (reflect.Value, error) {
	out := reflect.New(target).Elem()

	if isVerticalTable(table) {
		names := make([]string, 0, table.RowCount())
		values := make([]string, 0, table.RowCount())
		for _, row := range table.Rows {
			names = append(names, cell(row, 0))
			values = append(values, cell(row, 1))
		}
		if err := c.fillStruct(out, names, values, culture); err != nil {
			return reflect.Value{}, err
		}
		return out, nil
	}

	if table.RowCount() != 1 {
		return reflect.Value{}, fmt.Errorf("expected a single row or a field/value table, got %d rows", table.RowCount())
	}
	if err := c.fillStruct(out, table.Header, table.Rows[0], culture); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

func (c *TypeConverter) tableToMap(table *feature.Table, target reflect.Type, culture language.Tag) (reflect.Value, error) {
	if target.Key().Kind() != reflect.String {
		return reflect.Value{}, fmt.Errorf("map keys must be strings, got %s", target.Key())
	}
	if len(table.Header) != 2 {
		return reflect.Value{}, fmt.Errorf("map tables need exactly two columns, got %d", len(table.Header))
	}

	out := reflect.MakeMapWithSize(target, table.RowCount())
	for i, row := range table.Rows {
		v, err := c.convertString(cell(row, 1), target.Elem(), culture)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		out.SetMapIndex(reflect.ValueOf(cell(row, 0)).Convert(target.Key()), v)
	}
	return out, nil
}

// fillStruct sets the fields of v whose names match the headers. Headers
// without a matching field are ignored.
func (c *TypeConverter) fillStruct(v reflect.Value, headers, values []string, culture language.Tag) error {
	fields := fieldIndex(v.Type())
	for i, h := range headers {
		idx, ok := fields[normalizeName(h)]
		if !ok || i >= len(values) {
			continue
		}
		field := v.FieldByIndex(idx)
		converted, err := c.convertString(values[i], field.Type(), culture)
		if err != nil {
			return fmt.Errorf("column %q: %w", h, err)
		}
		field.Set(converted)
	}
	return nil
}

// fieldIndex maps normalized field names (and `table` tags) to field indexes.
func fieldIndex(t reflect.Type) map[string][]int {
	index := make(map[string][]int, t.NumField())
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		if tag, ok := f.Tag.Lookup("table"); ok {
			if tag == "-" {
				continue
			}
			index[normalizeName(tag)] = f.Index
			continue
		}
		if _, taken := index[normalizeName(f.Name)]; !taken {
			index[normalizeName(f.Name)] = f.Index
		}
	}
	return index
}

// normalizeName folds case and drops whitespace and underscores so that
// "First Name", "first_name" and "FirstName" compare equal.
func normalizeName(s string) string {
	folded := cases.Fold().String(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '_', ' ':
			return -1
		}
		return r
	}, folded)
}

func isVerticalTable(table *feature.Table) bool {
	if len(table.Header) != 2 {
		return false
	}
	switch normalizeName(table.Header[0]) {
	case "field", "property", "name", "key":
	default:
		return false
	}
	return normalizeName(table.Header[1]) == "value"
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
