package federation

import (
	"sort"

	"github.com/samsarahq/go/oops"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/async-graphql/graphgate/graphql"
)

// flattener normalizes a query's selection set against the composed schema:
// fragments are inlined, selections sharing an alias on the same object are
// merged, and abstract-type (union or interface) selection sets are
// expanded into one inline fragment per possible concrete type so the
// planner never has to reason about fragments or aliasing itself.
//
// Grounded on thunder's federation/normalize.go flattener, generalized from
// thunder's reflection-based graphql.Type switch (Object/Union/Enum/
// Scalar/List/NonNull) to gqlparser's *ast.Definition/*ast.Type, and from
// thunder's union-only abstract types to both unions and interfaces, since
// the spec's schema model supports @key/@owner on interfaces too.
type flattener struct {
	schema *graphql.Schema
}

func newFlattener(schema *graphql.Schema) *flattener {
	return &flattener{schema: schema}
}

// applies reports whether concreteType satisfies a fragment's type
// condition on: itself, an interface it implements, or a union it belongs
// to.
func (f *flattener) applies(concreteType *ast.Definition, on string) bool {
	if concreteType.Name == on {
		return true
	}
	for _, i := range concreteType.Interfaces {
		if i == on {
			return true
		}
	}
	for _, p := range f.schema.AST.PossibleTypes[on] {
		if p.Name == concreteType.Name {
			return true
		}
	}
	return false
}

// flattenFragments inlines every fragment in ss matching typ into target,
// without descending into the resulting sub-selections (flatten handles
// that recursively afterward).
func (f *flattener) flattenFragments(ss graphql.SelectionSet, typ *ast.Definition, target *[]*graphql.Selection) error {
	*target = append(*target, ss.Selections...)
	for _, frag := range ss.Fragments {
		if f.applies(typ, frag.On) {
			if err := f.flattenFragments(frag.SelectionSet, typ, target); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeSameAlias combines selections sharing a response key, verifying
// their field name and (once merged) carrying forward both sub-selection
// sets so the recursive flatten below sees the union of what was asked.
func mergeSameAlias(selections []*graphql.Selection) ([]*graphql.Selection, error) {
	sort.SliceStable(selections, func(i, j int) bool {
		return selections[i].ResponseKey() < selections[j].ResponseKey()
	})

	var out []*graphql.Selection
	var last *graphql.Selection
	for _, sel := range selections {
		if last == nil || sel.ResponseKey() != last.ResponseKey() {
			clone := *sel
			out = append(out, &clone)
			last = &clone
			continue
		}
		if sel.Name != last.Name {
			return nil, oops.Errorf("two selections with alias %s have different field names (%s and %s)",
				sel.ResponseKey(), sel.Name, last.Name)
		}
		if !sel.SelectionSet.Empty() {
			last.SelectionSet.Selections = append(last.SelectionSet.Selections, sel.SelectionSet.Selections...)
			last.SelectionSet.Fragments = append(last.SelectionSet.Fragments, sel.SelectionSet.Fragments...)
		}
	}
	return out, nil
}

// flatten recursively normalizes ss against the type at typ.
func (f *flattener) flatten(ss graphql.SelectionSet, typ *ast.Type) (graphql.SelectionSet, error) {
	if typ.Elem != nil {
		return f.flatten(ss, typ.Elem)
	}

	named := typ.NamedType
	def := f.schema.Lookup(named)
	if def == nil {
		if ss.Empty() {
			return ss, nil
		}
		return graphql.SelectionSet{}, oops.Errorf("unknown type %s", named)
	}

	switch def.Kind {
	case ast.Scalar, ast.Enum:
		if !ss.Empty() {
			return graphql.SelectionSet{}, oops.Errorf("unexpected selection on scalar or enum type %s", named)
		}
		return ss, nil

	case ast.Object:
		if ss.Empty() {
			return graphql.SelectionSet{}, oops.Errorf("object %s needs a selection set", named)
		}

		var selections []*graphql.Selection
		if err := f.flattenFragments(ss, def, &selections); err != nil {
			return graphql.SelectionSet{}, err
		}
		selections, err := mergeSameAlias(selections)
		if err != nil {
			return graphql.SelectionSet{}, err
		}

		for _, sel := range selections {
			if sel.Name == "__typename" {
				continue
			}
			fd := fieldDef(def, sel.Name)
			if fd == nil {
				return graphql.SelectionSet{}, oops.Errorf("unknown field %s on type %s", sel.Name, named)
			}
			flat, err := f.flatten(sel.SelectionSet, fd.Type)
			if err != nil {
				return graphql.SelectionSet{}, err
			}
			sel.SelectionSet = flat
		}

		return graphql.SelectionSet{Selections: selections}, nil

	case ast.Interface, ast.Union:
		// Expand the abstract selection set into one inline fragment per
		// possible concrete type, recursively normalizing the same raw
		// selection set against each.
		possible := f.schema.PossibleTypes(named)
		var fragments []*graphql.Fragment
		for _, obj := range possible {
			flat, err := f.flatten(ss, &ast.Type{NamedType: obj.Name})
			if err != nil {
				return graphql.SelectionSet{}, err
			}
			if len(flat.Selections) > 0 || len(flat.Fragments) > 0 {
				fragments = append(fragments, &graphql.Fragment{On: obj.Name, SelectionSet: flat})
			}
		}
		sort.Slice(fragments, func(i, j int) bool { return fragments[i].On < fragments[j].On })
		return graphql.SelectionSet{Fragments: fragments}, nil

	default:
		return graphql.SelectionSet{}, oops.Errorf("unsupported type kind for %s", named)
	}
}

// fieldDef looks up a field definition by name among typ's declared fields.
// The implicit __typename meta-field is not among them, so it returns nil
// for __typename.
func fieldDef(typ *ast.Definition, name string) *ast.FieldDefinition {
	for _, f := range typ.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}
