package param

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Flattener walks a nested JSON metadata tree and produces a flat list of
// Parameters for its schema-valid leaves. Malformed leaves are dropped with a
// warning; the walk itself never fails.
type Flattener struct {
	log *slog.Logger
}

// NewFlattener creates a Flattener logging dropped leaves to the given logger.
// A nil logger falls back to slog.Default().
func NewFlattener(log *slog.Logger) *Flattener {
	if log == nil {
		log = slog.Default()
	}
	return &Flattener{log: log}
}

// CreateParameters flattens tree using a default Flattener.
func CreateParameters(tree map[string]any) []*Parameter {
	return NewFlattener(nil).Flatten(tree)
}

// Flatten walks the metadata tree and creates a Parameter per leaf, with the
// path accumulated as the list of keys traversed. The result is depth-first
// with branch keys visited in sorted order, so two flattens of the same tree
// yield equal lists.
//
// Leaves named "name" or "description" collide with reserved fields of the
// server's parameter tree and are removed from the result.
func (f *Flattener) Flatten(tree map[string]any) []*Parameter {
	var parameters []*Parameter
	f.walk(tree, nil, func(p *Parameter) {
		parameters = append(parameters, p)
	})

	parameters, invalid := Partition(parameters, func(p *Parameter) bool {
		last := p.URI[len(p.URI)-1]
		return last != "name" && last != "description"
	})
	if len(invalid) > 0 {
		names := make([]string, len(invalid))
		for i, p := range invalid {
			names[i] = strings.Join(p.URI, "/")
		}
		f.log.Warn("Removing parameters with reserved names", "parameters", names)
	}

	return parameters
}

func (f *Flattener) walk(tree map[string]any, path []string, emit func(*Parameter)) {
	for _, name := range sortedKeys(tree) {
		if name == "command" {
			// Command subtrees are handled by a separate collaborator and
			// are never modelled as parameters.
			continue
		}

		nodePath := childPath(path, name)

		switch value := tree[name].(type) {
		case map[string]any:
			if isMetadataObject(value) {
				f.emitMetadataLeaf(nodePath, value, emit)
			} else {
				f.walk(value, nodePath, emit)
			}
		case []any:
			if len(value) > 0 && allObjects(value) {
				// Sharded branch: N identical trees for each underlying
				// process, indexed by position.
				for idx, sub := range value {
					f.walk(sub.(map[string]any), childPath(nodePath, strconv.Itoa(idx)), emit)
				}
			} else {
				f.emitRawList(nodePath, value, emit)
			}
		default:
			f.emitInferred(nodePath, value, emit)
		}
	}
}

// emitMetadataLeaf emits parameters for a metadata-wrapped leaf. A leaf whose
// value is a list or object is expanded into one parameter per element, with
// the outer type and writeability propagated.
func (f *Flattener) emitMetadataLeaf(path []string, leaf map[string]any, emit func(*Parameter)) {
	typeName, ok := leaf["type"].(string)
	if !ok {
		f.log.Warn("Dropping leaf with malformed type field",
			"path", strings.Join(path, "/"), "type", leaf["type"])
		return
	}

	valueType, err := ParseValueType(typeName)
	if err != nil {
		f.log.Warn("Dropping leaf with unsupported type",
			"path", strings.Join(path, "/"), "error", err)
		return
	}

	writeable, _ := leaf["writeable"].(bool)
	allowed := parseAllowedValues(leaf["allowed_values"])

	switch value := leaf["value"].(type) {
	case []any:
		for idx, element := range value {
			emit(&Parameter{
				URI: childPath(path, strconv.Itoa(idx)),
				Metadata: Metadata{
					Value:     element,
					Type:      valueType,
					Writeable: writeable,
				},
			})
		}
	case map[string]any:
		for _, key := range sortedKeys(value) {
			emit(&Parameter{
				URI: childPath(path, key),
				Metadata: Metadata{
					Value:     value[key],
					Type:      valueType,
					Writeable: writeable,
				},
			})
		}
	default:
		emit(&Parameter{
			URI: path,
			Metadata: Metadata{
				Value:         value,
				Type:          valueType,
				Writeable:     writeable,
				AllowedValues: allowed,
			},
		})
	}
}

// emitRawList emits parameters for a bare list value. Lists under a config
// section are split into indexed writable parameters so each element can be
// set; elsewhere the list collapses to a single read-only string for display.
func (f *Flattener) emitRawList(path []string, list []any, emit func(*Parameter)) {
	if slices.Contains(path, "config") {
		for idx, element := range list {
			f.emitInferred(childPath(path, strconv.Itoa(idx)), element, emit)
		}
		return
	}

	emit(&Parameter{
		URI: path,
		Metadata: Metadata{
			Value:     stringifyList(list),
			Type:      TypeString,
			Writeable: false,
		},
	})
}

// emitInferred emits a parameter for a leaf without metadata, inferring the
// type from the runtime value. Writeability follows from the path containing
// a config section.
func (f *Flattener) emitInferred(path []string, value any, emit func(*Parameter)) {
	valueType, err := InferValueType(value)
	if err != nil {
		f.log.Warn("Dropping leaf with uninferrable type",
			"path", strings.Join(path, "/"), "error", err)
		return
	}

	emit(&Parameter{
		URI: path,
		Metadata: Metadata{
			Value:     value,
			Type:      valueType,
			Writeable: slices.Contains(path, "config"),
		},
	})
}

// isMetadataObject reports whether a JSON object is a metadata-wrapped leaf
// rather than a branch.
func isMetadataObject(m map[string]any) bool {
	_, hasValue := m["value"]
	_, hasWriteable := m["writeable"]
	_, hasType := m["type"]
	return hasValue && hasWriteable && hasType
}

func allObjects(list []any) bool {
	for _, element := range list {
		if _, ok := element.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// childPath extends path with a segment, always copying so sibling walks
// never alias the same backing array.
func childPath(path []string, segment string) []string {
	extended := make([]string, len(path)+1)
	copy(extended, path)
	extended[len(path)] = segment
	return extended
}

func parseAllowedValues(raw any) map[int]string {
	values, ok := raw.(map[string]any)
	if !ok || len(values) == 0 {
		return nil
	}

	allowed := make(map[int]string, len(values))
	for key, label := range values {
		index, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		if name, ok := label.(string); ok {
			allowed[index] = name
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	return allowed
}

func stringifyList(list []any) string {
	parts := make([]string, len(list))
	for i, element := range list {
		parts[i] = fmt.Sprintf("%v", element)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
