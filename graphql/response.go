package graphql

import (
	"sync"

	"github.com/vektah/gqlparser/v2/ast"
)

// ResponseTree is the accumulating JSON-like document the executor mutates
// as fetches complete, addressed by a path of field names (arrays met along
// the path are descended into element by element). Grounded on thunder's graphql/response.go syncResponse (a
// concurrency-safe accumulator for in-flight field results), generalized
// from a flat key/value map to a real nested tree since federation splices
// whole subgraph response objects at arbitrary depths, not single scalar
// field values.
type ResponseTree struct {
	mu   sync.Mutex
	Data map[string]interface{}
}

// NewResponseTree creates an empty tree ready to receive the root Fetch's
// result.
func NewResponseTree() *ResponseTree {
	return &ResponseTree{Data: map[string]interface{}{}}
}

// Merge splices fields from data into the object at path (nil/empty path
// means the root). Safe for concurrent callers, which is what lets sibling
// Parallel fetches land their results without racing each other.
func (t *ResponseTree) Merge(path []string, data map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, err := navigate(t.Data, path)
	if err != nil {
		return err
	}
	for k, v := range data {
		node[k] = v
	}
	return nil
}

// Snapshot returns the root object. Callers must not mutate the result
// directly except through Merge or the splice helpers below.
func (t *ResponseTree) Snapshot() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Data
}

// navigate walks an object-only path (array indices are resolved
// dynamically by CollectEntities below, never addressed directly) and
// returns the node found, creating intermediate maps as needed.
func navigate(root map[string]interface{}, path []string) (map[string]interface{}, error) {
	node := root
	for _, seg := range path {
		next, ok := node[seg]
		if !ok {
			created := map[string]interface{}{}
			node[seg] = created
			node = created
			continue
		}
		m, ok := next.(map[string]interface{})
		if !ok {
			return nil, NewSafeError("path segment %q is not an object", seg)
		}
		node = m
	}
	return node, nil
}

// CollectEntities walks the tree at path, transparently descending through
// any arrays it finds along the way or at the end, and returns every
// object-shaped entity found, in traversal order. This is the Flatten
// node's core primitive: "walk the ResponseTree at path, which must be a
// list or a single entity."
func (t *ResponseTree) CollectEntities(path []string) []map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return collectEntities(t.Data, path)
}

func collectEntities(node interface{}, path []string) []map[string]interface{} {
	if len(path) == 0 {
		return flattenEntityNode(node)
	}
	switch v := node.(type) {
	case map[string]interface{}:
		child, ok := v[path[0]]
		if !ok {
			return nil
		}
		return collectEntities(child, path[1:])
	case []interface{}:
		var out []map[string]interface{}
		for _, item := range v {
			out = append(out, collectEntities(item, path)...)
		}
		return out
	default:
		return nil
	}
}

func flattenEntityNode(node interface{}) []map[string]interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{v}
	case []interface{}:
		var out []map[string]interface{}
		for _, item := range v {
			out = append(out, flattenEntityNode(item)...)
		}
		return out
	default:
		return nil
	}
}

// BuildRepresentation assembles the {__typename, <key fields>} payload sent
// as one element of the $representations variable for an _entities
// re-fetch, extracting the key's field-set out of an already-resolved
// entity map.
func BuildRepresentation(entity map[string]interface{}, typename string, keyFields ast.SelectionSet) map[string]interface{} {
	repr := map[string]interface{}{"__typename": typename}
	extractSelection(entity, keyFields, repr)
	return repr
}

func extractSelection(src map[string]interface{}, sel ast.SelectionSet, dst map[string]interface{}) {
	for _, s := range sel {
		f, ok := s.(*ast.Field)
		if !ok {
			continue
		}
		key := f.Alias
		if key == "" {
			key = f.Name
		}
		val, ok := src[key]
		if !ok {
			continue
		}
		if len(f.SelectionSet) > 0 {
			if nested, ok := val.(map[string]interface{}); ok {
				inner := map[string]interface{}{}
				extractSelection(nested, f.SelectionSet, inner)
				dst[f.Name] = inner
				continue
			}
		}
		dst[f.Name] = val
	}
}

// SpliceEntities merges each element of results into the corresponding
// entity gathered by a prior CollectEntities call, by position: the
// "splice each returned entity back into its originating position" half of
// Flatten, grounded on the old federation/executor.go draft's execute
// splice loop (DFS search by path, then write results back by index).
func SpliceEntities(entities []map[string]interface{}, results []map[string]interface{}) error {
	if len(entities) != len(results) {
		return NewSafeError("flatten result count %d does not match entity count %d", len(results), len(entities))
	}
	for i, entity := range entities {
		for k, v := range results[i] {
			entity[k] = v
		}
	}
	return nil
}
