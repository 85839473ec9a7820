// Package param models parameters discovered from an odin control server and
// provides the tree walk that flattens the server's nested JSON metadata into
// a list of typed parameter descriptors.
package param

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/DiamondLightSource/odinmirror/errors"
)

// ValueType is the wire type of a parameter value.
type ValueType int

const (
	// TypeFloat is a floating point parameter
	TypeFloat ValueType = iota
	// TypeInt is an integer parameter
	TypeInt
	// TypeBool is a boolean parameter
	TypeBool
	// TypeString is a string parameter
	TypeString
)

// String returns the canonical name of the type
func (t ValueType) String() string {
	switch t {
	case TypeFloat:
		return "float"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeString:
		return "str"
	default:
		return "unknown"
	}
}

// ParseValueType parses a type name reported by the server into a ValueType.
// Unrecognised names fail with ErrUnsupportedType so the leaf can be dropped.
func ParseValueType(name string) (ValueType, error) {
	switch strings.ToLower(name) {
	case "float", "float32", "float64", "double":
		return TypeFloat, nil
	case "int", "int32", "int64", "uint", "uint32", "uint64":
		return TypeInt, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "str", "string":
		return TypeString, nil
	default:
		return 0, fmt.Errorf("%w: %q", errors.ErrUnsupportedType, name)
	}
}

// InferValueType derives a ValueType from a runtime value, used for leaves
// that do not carry metadata. JSON numbers decoded with UseNumber are mapped
// to int when they have no fractional component.
func InferValueType(value any) (ValueType, error) {
	switch v := value.(type) {
	case bool:
		return TypeBool, nil
	case string:
		return TypeString, nil
	case int, int32, int64:
		return TypeInt, nil
	case float32:
		return TypeFloat, nil
	case float64:
		return TypeFloat, nil
	case json.Number:
		if _, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return TypeInt, nil
		}
		return TypeFloat, nil
	default:
		return 0, fmt.Errorf("%w: value %v (%T)", errors.ErrUnsupportedType, value, value)
	}
}

// Coerce converts a raw value into the Go representation for this ValueType.
// Int values become int64, Float values become float64.
func (t ValueType) Coerce(value any) (any, error) {
	switch t {
	case TypeBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case TypeInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return i, nil
			}
			if f, err := v.Float64(); err == nil {
				return int64(f), nil
			}
		}
	case TypeFloat:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: cannot coerce %v (%T) to %s",
		errors.ErrInvalidData, value, value, t)
}

// Zero returns the zero value for this ValueType.
func (t ValueType) Zero() any {
	switch t {
	case TypeFloat:
		return float64(0)
	case TypeInt:
		return int64(0)
	case TypeBool:
		return false
	default:
		return ""
	}
}

// Metadata describes a parameter leaf as reported by the server.
type Metadata struct {
	Value         any
	Type          ValueType
	Writeable     bool
	AllowedValues map[int]string
}

// Parameter is one leaf in the parameter tree of an odin adapter.
type Parameter struct {
	// URI is the address of the parameter in the remote tree, relative to the
	// prefix of the cache serving it. Controllers rewrite it when they re-home
	// a parameter under a narrower prefix.
	URI []string

	// Metadata is the typed description of the parameter value.
	Metadata Metadata

	// path is the reduced path used to construct the name, overriding URI.
	path []string
}

// Path returns the reduced path of the parameter, defaulting to its URI.
func (p *Parameter) Path() []string {
	if len(p.path) > 0 {
		return p.path
	}
	return p.URI
}

// SetPath sets the reduced path of the parameter to override the URI when
// constructing the name. Called at most once per structural transformation
// step, before the parameter is bound to a leaf.
func (p *Parameter) SetPath(path []string) {
	p.path = path
}

// Name returns the unique name of the parameter, the reduced path joined
// with underscores. Uniqueness within one node's attribute set is enforced
// by the consumer, not here.
func (p *Parameter) Name() string {
	return strings.Join(p.Path(), "_")
}
