package federation

import (
	"github.com/samsarahq/go/oops"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Federation directive names, as spec.md §1/§4.B defines them.
const (
	DirectiveOwner    = "owner"
	DirectiveKey      = "key"
	DirectiveResolve  = "resolve"
	DirectiveProvides = "provides"
	DirectiveRequires = "requires"
)

// directiveDefs is parsed as its own built-in source on every Compose and
// its definitions become the composed schema's directives, so subgraphs use
// the federation directives without declaring them, the same role gqlgen's
// federation plugin gives its injected
// entity.graphql source (other_examples' zerbitx-gqlgen federation.go
// MutateSchema/getSource).
const directiveDefs = `
directive @owner on OBJECT | INTERFACE
directive @key(fields: String!) repeatable on OBJECT | INTERFACE
directive @resolve on FIELD_DEFINITION
directive @provides(fields: String!) on FIELD_DEFINITION
directive @requires(fields: String!) on FIELD_DEFINITION
`

// hasDirective reports whether def carries a directive named name.
func hasDirective(directives ast.DirectiveList, name string) bool {
	return directives.ForName(name) != nil
}

// fieldSetArg parses the string-valued "fields" argument of a @key,
// @provides, or @requires directive into a field-set selection, the
// gqlparser/v2/parser.ParseQuery-compatible syntax the spec specifies for
// field-sets (4.B).
func fieldSetArg(directive *ast.Directive, typeName string) (ast.SelectionSet, error) {
	arg := directive.Arguments.ForName("fields")
	if arg == nil {
		return nil, oops.Errorf("@%s on %s is missing a fields argument", directive.Name, typeName)
	}
	raw, err := arg.Value.Value(nil)
	if err != nil {
		return nil, oops.Wrapf(err, "evaluating @%s fields on %s", directive.Name, typeName)
	}
	str, ok := raw.(string)
	if !ok {
		return nil, oops.Errorf("@%s fields argument on %s must be a string", directive.Name, typeName)
	}

	doc, err := parser.ParseQuery(&ast.Source{Input: "{" + str + "}"})
	if err != nil {
		return nil, oops.Wrapf(err, "parsing @%s fields %q on %s", directive.Name, str, typeName)
	}
	if len(doc.Operations) != 1 {
		return nil, oops.Errorf("@%s fields %q on %s must parse to one selection set", directive.Name, str, typeName)
	}
	return doc.Operations[0].SelectionSet, nil
}

// keysOf parses every @key directive on def for service, returning one Key
// per directive (a type may declare more than one key).
func keysOf(def *ast.Definition, service string) ([]keyDecl, error) {
	var keys []keyDecl
	for _, d := range def.Directives {
		if d.Name != DirectiveKey {
			continue
		}
		sel, err := fieldSetArg(d, def.Name)
		if err != nil {
			return nil, err
		}
		keys = append(keys, keyDecl{Service: service, Fields: sel})
	}
	return keys, nil
}

// keyDecl is an intermediate, pre-validation form of graphql.Key used while
// composing: its field-set is only parsed here, not checked against any
// type; Schema.ValidateKeys checks it against the merged type afterwards.
type keyDecl struct {
	Service string
	Fields  ast.SelectionSet
}
