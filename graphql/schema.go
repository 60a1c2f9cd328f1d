// Package graphql holds the gateway's in-memory representation of the
// composed GraphQL type system, the request/response data model that flows
// through planning and execution, and the error types every other package
// reports through.
//
// The type system itself is not reinvented: Schema wraps a gqlparser
// *ast.Schema (the same parser/AST the validator runs against) and keeps
// federation metadata in side-tables keyed by type and field name, the way
// thunder's SchemaWithFederationInfo attaches a Fields map to a graphql.Schema
// it does not otherwise touch.
package graphql

import (
	"sort"

	"github.com/samsarahq/go/oops"
	"github.com/vektah/gqlparser/v2/ast"
)

// Key is one @key declaration: the field-set identifying an entity for a
// given service, parsed into a selection set so the planner can walk it
// directly when building _entities representations.
type Key struct {
	Service string
	Fields  ast.SelectionSet
}

// FieldInfo carries federation metadata for a single field, grounded on
// thunder's federation.FieldInfo (which records only the set of services
// that can resolve a field) generalized to the spec's richer owner/
// resolve-in/provides/requires model.
type FieldInfo struct {
	// Owner is the service owning the field's parent type, set on every
	// field of the type, extension fields included. Empty for fields of the
	// root operation types, which have no owner.
	Owner string
	// ResolveIn is the service that must resolve this field when it is not
	// declared by the type's owner, i.e. an extension field.
	ResolveIn string
	// Provides lists fields this field's resolver can additionally return
	// on the field's own return type without another fetch.
	Provides ast.SelectionSet
	// Requires lists fields the resolving service needs pre-fetched on the
	// parent entity before it can resolve this field.
	Requires ast.SelectionSet
}

// Schema is the composed graph the gateway presents to clients: a gqlparser
// AST schema plus the federation side-tables the Composer built while
// merging subgraph SDLs. It is immutable after construction and safe for
// concurrent reads from many in-flight requests.
type Schema struct {
	AST *ast.Schema

	// Owners maps every non-root object or interface type name to its owning
	// service: the one that declared it with @owner, or the sole declaring
	// service of a type only one service declares. Root operation types,
	// scalars, enums, unions and input types have no entry.
	Owners map[string]string

	// Keys maps an entity type name to every @key it carries, one entry per
	// service able to resolve that key's representation.
	Keys map[string][]Key

	// Fields maps "TypeName.fieldName" to that field's FieldInfo.
	Fields map[string]*FieldInfo
}

func fieldKey(typeName, fieldName string) string {
	return typeName + "." + fieldName
}

// NewSchema builds an empty Schema ready for the Composer to populate.
func NewSchema(ast *ast.Schema) *Schema {
	return &Schema{
		AST:    ast,
		Owners: map[string]string{},
		Keys:    map[string][]Key{},
		Fields: map[string]*FieldInfo{},
	}
}

// Lookup returns the type definition for name, or nil if it does not exist.
func (s *Schema) Lookup(name string) *ast.Definition {
	return s.AST.Types[name]
}

// RootObject returns the object type backing the given root operation, or
// nil if the schema declares none (e.g. no subscription root).
func (s *Schema) RootObject(op ast.Operation) *ast.Definition {
	switch op {
	case ast.Query:
		return s.AST.Query
	case ast.Mutation:
		return s.AST.Mutation
	case ast.Subscription:
		return s.AST.Subscription
	default:
		return nil
	}
}

// FieldInfo returns the federation metadata for typeName.fieldName, or nil
// if the field carries none (it is a plain, single-service field).
func (s *Schema) FieldInfo(typeName, fieldName string) *FieldInfo {
	return s.Fields[fieldKey(typeName, fieldName)]
}

// Owner returns the service owning typeName's identity and whether it is a
// federated entity at all.
func (s *Schema) Owner(typeName string) (string, bool) {
	owner, ok := s.Owners[typeName]
	return owner, ok
}

// KeysFor returns the @key declarations for typeName, nil if it is not an
// entity.
func (s *Schema) KeysFor(typeName string) []Key {
	return s.Keys[typeName]
}

// ResolvingService returns which service must resolve typeName.fieldName:
// the field's resolve-in tag if it has one, otherwise the type's owner,
// otherwise false (a field with no resolve-in tag on a type with no Owners
// entry).
func (s *Schema) ResolvingService(typeName, fieldName string) (string, bool) {
	if info := s.FieldInfo(typeName, fieldName); info != nil && info.ResolveIn != "" {
		return info.ResolveIn, true
	}
	if owner, ok := s.Owners[typeName]; ok {
		return owner, true
	}
	return "", false
}

// PossibleTypes returns the concrete object types implementing the named
// interface or belonging to the named union, sorted by name for
// deterministic abstract-type branching in the planner.
func (s *Schema) PossibleTypes(name string) []*ast.Definition {
	defs := s.AST.PossibleTypes[name]
	out := make([]*ast.Definition, len(defs))
	copy(out, defs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PossibleTypesClaims reports whether name denotes an abstract type
// (interface or union) that the schema has possible types recorded for.
func (s *Schema) PossibleTypesClaims(name string) bool {
	def := s.Lookup(name)
	if def == nil {
		return false
	}
	return (def.Kind == ast.Interface || def.Kind == ast.Union) && len(s.AST.PossibleTypes[name]) > 0
}

// IsAbstractType reports whether def is an interface or union.
func IsAbstractType(def *ast.Definition) bool {
	return def != nil && (def.Kind == ast.Interface || def.Kind == ast.Union)
}

// NamedTypeOf unwraps NonNull/List wrappers down to the named type at the
// core of a type reference.
func NamedTypeOf(t *ast.Type) string {
	if t == nil {
		return ""
	}
	for t.NamedType == "" && t.Elem != nil {
		t = t.Elem
	}
	return t.NamedType
}

// validateKey checks that every field named in a @key selection exists on
// typ and is itself scalar-valued or a recursive selection of scalar
// fields, per the spec's key invariant.
func validateKey(schema *Schema, typ *ast.Definition, sel ast.SelectionSet) error {
	for _, s := range sel {
		field, ok := s.(*ast.Field)
		if !ok {
			return oops.Errorf("key field-set on %s may only contain plain field selections", typ.Name)
		}
		def := fieldDef(typ, field.Name)
		if def == nil {
			return oops.Errorf("key field %s.%s does not exist on the type", typ.Name, field.Name)
		}
		if len(field.SelectionSet) > 0 {
			inner := schema.Lookup(NamedTypeOf(def.Type))
			if inner == nil {
				return oops.Errorf("key field %s.%s has no resolvable inner type", typ.Name, field.Name)
			}
			if err := validateKey(schema, inner, field.SelectionSet); err != nil {
				return err
			}
		} else if inner := schema.Lookup(NamedTypeOf(def.Type)); inner != nil &&
			(inner.Kind == ast.Object || inner.Kind == ast.Interface || inner.Kind == ast.Union) {
			return oops.Errorf("key field %s.%s is not scalar-valued", typ.Name, field.Name)
		}
	}
	return nil
}

func fieldDef(typ *ast.Definition, name string) *ast.FieldDefinition {
	for _, f := range typ.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ValidateKeys checks every @key recorded on the schema against
// validateKey, surfacing InvalidKey composition errors.
func (s *Schema) ValidateKeys() error {
	for typeName, keys := range s.Keys {
		typ := s.Lookup(typeName)
		if typ == nil {
			return oops.Errorf("InvalidKey: key declared for unknown type %s", typeName)
		}
		for _, k := range keys {
			if err := validateKey(s, typ, k.Fields); err != nil {
				return oops.Wrapf(err, "InvalidKey: invalid key on %s", typeName)
			}
		}
	}
	return nil
}
