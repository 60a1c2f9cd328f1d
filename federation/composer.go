// Package federation implements the composition, validation, planning and
// execution pipeline that turns several subgraph schemas into one gateway.
//
// Composer merges a set of subgraph SDLs into one graphql.Schema. It is
// grounded on thunder's federation/schema/merge_schemas.go mergeSchemas/
// mergeTypes/mergeFields family (group every definition by name across
// services, sort names for determinism, merge pairwise, error on
// incompatibility) adapted from merging introspection-JSON result structs
// to merging gqlparser SDL ASTs, and from thunder's Union/Intersection
// version-merging model to the spec's owner/extends federation model.
package federation

import (
	"sort"
	"strings"

	"github.com/samsarahq/go/oops"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/async-graphql/graphgate/graphql"
)

// Subgraph is one (service-name, SDL) pair, the Composer's input contract
// per spec.md §6 "Composed schema input".
type Subgraph struct {
	Name string
	SDL  string
}

type namedDef struct {
	service string
	def     *ast.Definition
}

// Compose merges subgraphs into one composed graphql.Schema, or returns a
// *graphql.CompositionError listing every conflict found. Composing the
// same set of SDLs twice yields equal schemas (composition idempotence):
// every collection here is processed in a name-sorted order so the result
// never depends on the order subgraphs were supplied in.
func Compose(subgraphs []Subgraph) (*graphql.Schema, error) {
	errs := &graphql.CompositionError{}

	directiveDoc, err := parser.ParseSchema(&ast.Source{Name: "federation-directives", Input: directiveDefs, BuiltIn: true})
	if err != nil {
		return nil, oops.Wrapf(err, "parsing built-in federation directives")
	}

	docs := map[string]*ast.SchemaDocument{}
	var order []string
	for _, sg := range subgraphs {
		doc, perr := parser.ParseSchema(&ast.Source{Name: sg.Name, Input: sg.SDL})
		if perr != nil {
			errs.Add(oops.Wrapf(perr, "parsing schema for service %s", sg.Name))
			continue
		}
		docs[sg.Name] = doc
		order = append(order, sg.Name)
	}
	if errs.HasErrors() {
		return nil, errs
	}
	sort.Strings(order)

	byName := map[string][]namedDef{}
	queryRoot, mutationRoot, subscriptionRoot := "Query", "Mutation", "Subscription"

	for _, service := range order {
		doc := docs[service]
		for _, sd := range doc.Schema {
			for _, opType := range sd.OperationTypes {
				switch opType.Operation {
				case ast.Query:
					queryRoot = opType.Type
				case ast.Mutation:
					mutationRoot = opType.Type
				case ast.Subscription:
					subscriptionRoot = opType.Type
				}
			}
		}
		for _, def := range doc.Definitions {
			if isBuiltinTypeName(def.Name) {
				errs.Add(errUnknownType("service %s redefines built-in type %s", service, def.Name))
				continue
			}
			byName[def.Name] = append(byName[def.Name], namedDef{service: service, def: def})
		}
	}

	astSchema := &ast.Schema{
		Types:         map[string]*ast.Definition{},
		PossibleTypes: map[string][]*ast.Definition{},
		Directives:    map[string]*ast.DirectiveDefinition{},
	}
	for _, d := range directiveDoc.Directives {
		astSchema.Directives[d.Name] = d
	}
	schema := graphql.NewSchema(astSchema)

	roots := map[string]bool{queryRoot: true, mutationRoot: true, subscriptionRoot: true}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		defs := byName[name]
		var merged *ast.Definition
		switch defs[0].def.Kind {
		case ast.Object, ast.Interface:
			merged = mergeObjectLike(schema, name, defs, roots[name], errs)
		case ast.Scalar, ast.Enum, ast.Union:
			merged = mergeScalarLike(name, defs, errs)
		case ast.InputObject:
			merged = mergeInputObject(name, defs, errs)
		default:
			errs.Add(errUnknownType("type %s has unsupported kind %s", name, defs[0].def.Kind))
			continue
		}
		if merged != nil {
			astSchema.Types[name] = merged
		}
	}

	injectBuiltinScalars(astSchema)
	computePossibleTypes(astSchema)

	if q, ok := astSchema.Types[queryRoot]; ok {
		astSchema.Query = q
	} else {
		errs.Add(errMissingOwner("no query root type %q found in composed schema", queryRoot))
	}
	if m, ok := astSchema.Types[mutationRoot]; ok {
		astSchema.Mutation = m
	}
	if s, ok := astSchema.Types[subscriptionRoot]; ok {
		astSchema.Subscription = s
	}

	if err := schema.ValidateKeys(); err != nil {
		errs.Add(err)
	}

	if errs.HasErrors() {
		return nil, errs
	}
	return schema, nil
}

// determineOwner resolves which service owns a federated object/interface
// type's identity. A type declared by exactly one service is trivially
// owned by it; a type declared by several services must have exactly one
// of them mark itself @owner.
func determineOwner(name string, defs []namedDef) (string, error) {
	if len(defs) == 1 {
		return defs[0].service, nil
	}
	var owners []string
	for _, d := range defs {
		if hasDirective(d.def.Directives, DirectiveOwner) {
			owners = append(owners, d.service)
		}
	}
	switch len(owners) {
	case 0:
		return "", errMissingOwner("type %s is declared by %d services but none declares @owner", name, len(defs))
	case 1:
		return owners[0], nil
	default:
		sort.Strings(owners)
		return "", errMissingOwner("type %s has ambiguous ownership, @owner declared by %v", name, owners)
	}
}

// mergeObjectLike merges every service's definition of an object or
// interface type: every field contributed by an extending service is
// tagged resolve-in(service); @provides/@requires field-sets are recorded
// on the merged field's FieldInfo; @key declarations are collected across
// every declaring service. isRoot marks Query/Mutation/Subscription: root
// operation types carry no entity identity for @owner/@key to apply to, so
// ownership determination is skipped entirely and their fields are just
// unioned across every contributing service, the way Apollo-style
// federation treats root types.
func mergeObjectLike(schema *graphql.Schema, name string, defs []namedDef, isRoot bool, errs *graphql.CompositionError) *ast.Definition {
	var owner string
	if !isRoot {
		var err error
		owner, err = determineOwner(name, defs)
		if err != nil {
			errs.Add(err)
		}
	}

	fieldService := map[string]string{}
	fieldDef := map[string]*ast.FieldDefinition{}
	var fieldOrder []string
	var interfaces []string

	for _, d := range defs {
		interfaces = append(interfaces, d.def.Interfaces...)
		for _, f := range d.def.Fields {
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			if existingService, ok := fieldService[f.Name]; ok {
				existing := fieldDef[f.Name]
				if existing.Type.String() != f.Type.String() {
					errs.Add(errConflictingFieldTypes("%s.%s is %s in %s but %s in %s",
						name, f.Name, existing.Type.String(), existingService, f.Type.String(), d.service))
				} else if d.service == owner {
					// An extension may restate an owner field (its @key
					// fields, typically); the owner's declaration resolves it.
					fieldService[f.Name], fieldDef[f.Name] = owner, f
				} else if existingService != owner {
					errs.Add(errDuplicateField("%s.%s is declared by both %s and %s",
						name, f.Name, existingService, d.service))
				}
				continue
			}
			fieldService[f.Name] = d.service
			fieldDef[f.Name] = f
			fieldOrder = append(fieldOrder, f.Name)
		}
	}

	merged := &ast.Definition{
		Kind:       defs[0].def.Kind,
		Name:       name,
		Interfaces: dedupeStrings(interfaces),
	}
	for _, fname := range fieldOrder {
		merged.Fields = append(merged.Fields, fieldDef[fname])
	}

	for _, fname := range fieldOrder {
		svc := fieldService[fname]
		info := &graphql.FieldInfo{Owner: owner}
		if svc != owner {
			info.ResolveIn = svc
		}
		fd := fieldDef[fname]
		for _, d := range fd.Directives {
			switch d.Name {
			case DirectiveProvides:
				if sel, perr := fieldSetArg(d, name); perr == nil {
					info.Provides = sel
				} else {
					errs.Add(perr)
				}
			case DirectiveRequires:
				if sel, perr := fieldSetArg(d, name); perr == nil {
					info.Requires = sel
				} else {
					errs.Add(perr)
				}
			}
		}
		schema.Fields[name+"."+fname] = info
	}
	if owner != "" {
		schema.Owners[name] = owner
	}

	var keys []graphql.Key
	for _, d := range defs {
		ks, kerr := keysOf(d.def, d.service)
		if kerr != nil {
			errs.Add(kerr)
			continue
		}
		for _, k := range ks {
			keys = append(keys, graphql.Key{Service: k.Service, Fields: k.Fields})
		}
	}
	if len(keys) > 0 {
		schema.Keys[name] = keys
	}

	return merged
}

// mergeScalarLike requires scalars/enums/unions with the same name to be
// structurally identical across every declaring service.
func mergeScalarLike(name string, defs []namedDef, errs *graphql.CompositionError) *ast.Definition {
	first := defs[0].def
	for _, d := range defs[1:] {
		if !structurallyIdentical(first, d.def) {
			errs.Add(errScalarConflict("type %s is declared differently by %s and %s", name, defs[0].service, d.service))
			break
		}
	}
	return first
}

func structurallyIdentical(a, b *ast.Definition) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ast.Enum:
		return sameStringSet(enumValueNames(a), enumValueNames(b))
	case ast.Union:
		return sameStringSet(a.Types, b.Types)
	default:
		return true
	}
}

func enumValueNames(d *ast.Definition) []string {
	names := make([]string, len(d.EnumValues))
	for i, v := range d.EnumValues {
		names[i] = v.Name
	}
	return names
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// mergeInputObject requires every service declaring the same input type to
// agree on its field set; input objects are not entities and carry no
// owner.
func mergeInputObject(name string, defs []namedDef, errs *graphql.CompositionError) *ast.Definition {
	first := defs[0].def
	fields := map[string]*ast.FieldDefinition{}
	for _, f := range first.Fields {
		fields[f.Name] = f
	}
	for _, d := range defs[1:] {
		if len(d.def.Fields) != len(first.Fields) {
			errs.Add(errConflictingFieldTypes("input type %s differs between %s and %s", name, defs[0].service, d.service))
			continue
		}
		for _, f := range d.def.Fields {
			existing, ok := fields[f.Name]
			if !ok || existing.Type.String() != f.Type.String() {
				errs.Add(errConflictingFieldTypes("input field %s.%s differs between %s and %s", name, f.Name, defs[0].service, d.service))
			}
		}
	}
	return first
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func isBuiltinTypeName(name string) bool {
	switch name {
	case "Int", "Float", "String", "Boolean", "ID":
		return true
	}
	return strings.HasPrefix(name, "__")
}

func injectBuiltinScalars(s *ast.Schema) {
	for _, name := range []string{"Int", "Float", "String", "Boolean", "ID"} {
		if _, ok := s.Types[name]; !ok {
			s.Types[name] = &ast.Definition{Kind: ast.Scalar, Name: name, BuiltIn: true}
		}
	}
}

// computePossibleTypes fills ast.Schema.PossibleTypes from each union's
// member list and each object's declared interfaces, the two sources
// gqlparser itself would compute while parsing a single monolithic SDL
// (here done once, after composition, since union/interface membership can
// span services).
func computePossibleTypes(s *ast.Schema) {
	for name, def := range s.Types {
		if def.Kind != ast.Union {
			continue
		}
		for _, t := range def.Types {
			if concrete, ok := s.Types[t]; ok {
				s.PossibleTypes[name] = append(s.PossibleTypes[name], concrete)
			}
		}
	}
	for _, def := range s.Types {
		if def.Kind != ast.Object {
			continue
		}
		for _, iface := range def.Interfaces {
			s.PossibleTypes[iface] = append(s.PossibleTypes[iface], def)
		}
	}
	for _, defs := range s.PossibleTypes {
		sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	}
}
