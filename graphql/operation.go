package graphql

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// Argument is one name:value pair in a field's argument list, keeping the
// raw AST value (which may itself reference an operation variable) so the
// executor can resolve it against concrete variables at send time.
type Argument struct {
	Name  string
	Value *ast.Value
}

// Selection is one field selection inside a SelectionSet: the gateway's own
// lightweight intermediate form, used to build and print subgraph
// sub-queries. Grounded on thunder's federation.Selection
// (federation/types.go).
type Selection struct {
	Alias        string
	Name         string
	Arguments    []Argument
	Directives   ast.DirectiveList
	SelectionSet SelectionSet
}

// ResponseKey is the key this selection will occupy in a JSON response:
// its alias if it has one, its name otherwise.
func (s *Selection) ResponseKey() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

// Fragment is an inline fragment restricting a selection to one concrete
// type, used when planning fields of an interface or union.
type Fragment struct {
	On           string
	SelectionSet SelectionSet
}

// SelectionSet is an ordered list of field selections plus inline
// fragments. Grounded on thunder's federation.SelectionSet
// (federation/types.go), generalized to preserve selection order (needed
// for the executor's deterministic field ordering during projection).
type SelectionSet struct {
	Selections []*Selection
	Fragments  []*Fragment
}

// Empty reports whether the selection set carries nothing at all.
func (ss SelectionSet) Empty() bool {
	return len(ss.Selections) == 0 && len(ss.Fragments) == 0
}

// Operation is a single executable operation extracted from a client
// request: its root selection set plus the declarations needed to print
// and send it as a standalone document to a subgraph.
type Operation struct {
	Name         string
	Type         ast.Operation
	VariableDefs ast.VariableDefinitionList
	SelectionSet SelectionSet
}

// FromFieldArguments converts gqlparser's argument list into our own,
// preserving the raw value (including variable references) untouched.
func FromFieldArguments(args ast.ArgumentList) []Argument {
	if len(args) == 0 {
		return nil
	}
	out := make([]Argument, len(args))
	for i, a := range args {
		out[i] = Argument{Name: a.Name, Value: a.Value}
	}
	return out
}

// FromAST converts a gqlparser selection set into the gateway's own
// SelectionSet, inlining fragment spreads against the operation's fragment
// definitions. Grounded on thunder's federation.convertSelectionSet/convert
// (federation/types.go), generalized to gqlparser's richer Selection union
// (ast.Field / ast.FragmentSpread / ast.InlineFragment vs. thunder's
// reflection-based RawSelectionSet).
func FromAST(ss ast.SelectionSet, fragments ast.FragmentDefinitionList) SelectionSet {
	var out SelectionSet
	for _, sel := range ss {
		switch s := sel.(type) {
		case *ast.Field:
			out.Selections = append(out.Selections, &Selection{
				Alias:        s.Alias,
				Name:         s.Name,
				Arguments:    FromFieldArguments(s.Arguments),
				Directives:   s.Directives,
				SelectionSet: FromAST(s.SelectionSet, fragments),
			})
		case *ast.InlineFragment:
			out.Fragments = append(out.Fragments, &Fragment{
				On:           s.TypeCondition,
				SelectionSet: FromAST(s.SelectionSet, fragments),
			})
		case *ast.FragmentSpread:
			def := fragments.ForName(s.Name)
			if def == nil {
				continue
			}
			out.Fragments = append(out.Fragments, &Fragment{
				On:           def.TypeCondition,
				SelectionSet: FromAST(def.SelectionSet, fragments),
			})
		}
	}
	return out
}

// Print renders op as a GraphQL query document string suitable for sending
// to a subgraph. gqlparser's formatter package only prints *ast.Schema, not
// operations, so the gateway prints its own outgoing queries the way
// thunder's federation/planner.go printSelections debug-dumps a Plan's
// SelectionSet, generalized from a debug aid into the real wire serializer.
func Print(op *Operation) string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(string(op.Type)))
	if op.Name != "" {
		sb.WriteString(" ")
		sb.WriteString(op.Name)
	}
	if len(op.VariableDefs) > 0 {
		sb.WriteString("(")
		for i, vd := range op.VariableDefs {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%s: %s", vd.Variable, vd.Type.String())
		}
		sb.WriteString(")")
	}
	sb.WriteString(" ")
	printSelectionSet(&sb, op.SelectionSet)
	return sb.String()
}

func printSelectionSet(sb *strings.Builder, ss SelectionSet) {
	sb.WriteString("{ ")
	for _, sel := range ss.Selections {
		printSelection(sb, sel)
		sb.WriteString(" ")
	}
	for _, frag := range ss.Fragments {
		fmt.Fprintf(sb, "... on %s ", frag.On)
		printSelectionSet(sb, frag.SelectionSet)
		sb.WriteString(" ")
	}
	sb.WriteString("}")
}

func printSelection(sb *strings.Builder, sel *Selection) {
	if sel.Alias != "" && sel.Alias != sel.Name {
		fmt.Fprintf(sb, "%s: %s", sel.Alias, sel.Name)
	} else {
		sb.WriteString(sel.Name)
	}
	if len(sel.Arguments) > 0 {
		sb.WriteString("(")
		for i, a := range sel.Arguments {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%s: %s", a.Name, a.Value.String())
		}
		sb.WriteString(")")
	}
	if !sel.SelectionSet.Empty() {
		sb.WriteString(" ")
		printSelectionSet(sb, sel.SelectionSet)
	}
}

