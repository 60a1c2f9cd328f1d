// Introspection result types and synthesis, grounded on thunder's
// graphql/introspection package (its TypeKind/DirectiveLocation constant
// sets and Schema/Type/Field/InputValue/EnumValue/Directive result shape),
// rebuilt against gqlparser's *ast.Schema instead of thunder's own
// reflection-built graphql.Schema. Introspect and TypeByName build these
// results from the composed Schema, but the planner and executor do not
// call them: selections on __schema/__type never become Fetch nodes, so
// they never reach a subgraph, and they are not answered either (the
// result carries no value for them).
package graphql

import (
	"sort"

	"github.com/vektah/gqlparser/v2/ast"
)

type TypeKind string

const (
	ScalarKind      TypeKind = "SCALAR"
	ObjectKind      TypeKind = "OBJECT"
	InterfaceKind   TypeKind = "INTERFACE"
	UnionKind       TypeKind = "UNION"
	EnumKind        TypeKind = "ENUM"
	InputObjectKind TypeKind = "INPUT_OBJECT"
	ListKind        TypeKind = "LIST"
	NonNullKind     TypeKind = "NON_NULL"
)

type DirectiveLocation string

const (
	LocationQuery              DirectiveLocation = "QUERY"
	LocationMutation           DirectiveLocation = "MUTATION"
	LocationSubscription       DirectiveLocation = "SUBSCRIPTION"
	LocationField              DirectiveLocation = "FIELD"
	LocationFragmentDefinition DirectiveLocation = "FRAGMENT_DEFINITION"
	LocationFragmentSpread     DirectiveLocation = "FRAGMENT_SPREAD"
	LocationInlineFragment     DirectiveLocation = "INLINE_FRAGMENT"
)

// IntrospectedType is the standard __Type introspection shape.
type IntrospectedType struct {
	Kind          TypeKind
	Name          string
	Description   string
	Fields        []IntrospectedField
	Interfaces    []IntrospectedTypeRef
	PossibleTypes []IntrospectedTypeRef
	EnumValues    []IntrospectedEnumValue
	InputFields   []IntrospectedInputValue
	OfType        *IntrospectedTypeRef
}

// IntrospectedTypeRef is a (possibly wrapped) reference to another type,
// used wherever the full type isn't needed, just its kind/name/wrapping.
type IntrospectedTypeRef struct {
	Kind   TypeKind
	Name   string
	OfType *IntrospectedTypeRef
}

type IntrospectedField struct {
	Name              string
	Description       string
	Args              []IntrospectedInputValue
	Type              IntrospectedTypeRef
	IsDeprecated      bool
	DeprecationReason string
}

type IntrospectedInputValue struct {
	Name         string
	Description  string
	Type         IntrospectedTypeRef
	DefaultValue string
}

type IntrospectedEnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason string
}

type IntrospectedDirective struct {
	Name        string
	Description string
	Locations   []DirectiveLocation
	Args        []IntrospectedInputValue
}

// IntrospectedSchema is the standard __Schema introspection shape, built
// afresh by each Introspect call; nothing caches or serves it.
type IntrospectedSchema struct {
	Types            []IntrospectedType
	QueryType        *IntrospectedTypeRef
	MutationType     *IntrospectedTypeRef
	SubscriptionType *IntrospectedTypeRef
	Directives       []IntrospectedDirective
}

// Introspect synthesizes the full __schema introspection result from a
// composed Schema.
func Introspect(s *Schema) *IntrospectedSchema {
	names := make([]string, 0, len(s.AST.Types))
	for name := range s.AST.Types {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &IntrospectedSchema{}
	for _, name := range names {
		out.Types = append(out.Types, introspectType(s.AST.Types[name]))
	}
	if s.AST.Query != nil {
		out.QueryType = &IntrospectedTypeRef{Kind: ObjectKind, Name: s.AST.Query.Name}
	}
	if s.AST.Mutation != nil {
		out.MutationType = &IntrospectedTypeRef{Kind: ObjectKind, Name: s.AST.Mutation.Name}
	}
	if s.AST.Subscription != nil {
		out.SubscriptionType = &IntrospectedTypeRef{Kind: ObjectKind, Name: s.AST.Subscription.Name}
	}
	for _, name := range sortedDirectiveNames(s.AST.Directives) {
		out.Directives = append(out.Directives, introspectDirective(s.AST.Directives[name]))
	}
	return out
}

func sortedDirectiveNames(defs map[string]*ast.DirectiveDefinition) []string {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func astKind(k ast.DefinitionKind) TypeKind {
	switch k {
	case ast.Scalar:
		return ScalarKind
	case ast.Object:
		return ObjectKind
	case ast.Interface:
		return InterfaceKind
	case ast.Union:
		return UnionKind
	case ast.Enum:
		return EnumKind
	case ast.InputObject:
		return InputObjectKind
	default:
		return ScalarKind
	}
}

func introspectType(def *ast.Definition) IntrospectedType {
	t := IntrospectedType{
		Kind:        astKind(def.Kind),
		Name:        def.Name,
		Description: def.Description,
	}
	for _, f := range def.Fields {
		if len(f.Name) >= 2 && f.Name[:2] == "__" {
			continue
		}
		t.Fields = append(t.Fields, introspectField(f))
	}
	for _, i := range def.Interfaces {
		t.Interfaces = append(t.Interfaces, IntrospectedTypeRef{Kind: InterfaceKind, Name: i})
	}
	for _, p := range def.Types {
		t.PossibleTypes = append(t.PossibleTypes, IntrospectedTypeRef{Kind: ObjectKind, Name: p})
	}
	for _, v := range def.EnumValues {
		t.EnumValues = append(t.EnumValues, IntrospectedEnumValue{
			Name:        v.Name,
			Description: v.Description,
		})
	}
	for _, f := range def.Fields {
		if def.Kind == ast.InputObject {
			t.InputFields = append(t.InputFields, IntrospectedInputValue{
				Name:        f.Name,
				Description: f.Description,
				Type:        introspectTypeRef(f.Type),
			})
		}
	}
	return t
}

func introspectField(f *ast.FieldDefinition) IntrospectedField {
	field := IntrospectedField{
		Name:        f.Name,
		Description: f.Description,
		Type:        introspectTypeRef(f.Type),
	}
	for _, a := range f.Arguments {
		field.Args = append(field.Args, IntrospectedInputValue{
			Name:        a.Name,
			Description: a.Description,
			Type:        introspectTypeRef(a.Type),
		})
	}
	return field
}

func introspectTypeRef(t *ast.Type) IntrospectedTypeRef {
	if t.NonNull {
		inner := *t
		inner.NonNull = false
		ref := introspectTypeRef(&inner)
		return IntrospectedTypeRef{Kind: NonNullKind, OfType: &ref}
	}
	if t.Elem != nil {
		inner := introspectTypeRef(t.Elem)
		return IntrospectedTypeRef{Kind: ListKind, OfType: &inner}
	}
	return IntrospectedTypeRef{Kind: ScalarKind, Name: t.NamedType}
}

func introspectDirective(d *ast.DirectiveDefinition) IntrospectedDirective {
	dir := IntrospectedDirective{
		Name:        d.Name,
		Description: d.Description,
	}
	for _, loc := range d.Locations {
		dir.Locations = append(dir.Locations, DirectiveLocation(loc))
	}
	for _, a := range d.Arguments {
		dir.Args = append(dir.Args, IntrospectedInputValue{
			Name: a.Name,
			Type: introspectTypeRef(a.Type),
		})
	}
	return dir
}

// TypeByName answers a __type(name) lookup.
func TypeByName(s *Schema, name string) *IntrospectedType {
	def := s.Lookup(name)
	if def == nil {
		return nil
	}
	t := introspectType(def)
	return &t
}
