package federation

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/async-graphql/graphgate/graphql"
	"github.com/async-graphql/graphgate/internal/concurrencylimiter"
)

// Executor runs a Plan to completion and projects the result back into the
// shape the client asked for, per spec.md §4.E. Grounded on the old
// federation/executor.go draft's execute/search/splice loop, generalized
// to operate on a graphql.ResponseTree instead of a bare
// map[string]interface{}, to dispatch Parallel via errgroup bounded by
// internal/concurrencylimiter instead of an implicit sequential loop, and
// to send fetches over an HTTP SubgraphClient instead of the draft's gRPC
// ExecutorClient. Null propagation itself runs inside Project/projectTyped
// below, which walks the schema's field types during projection and can
// decide per-field whether a null bubbles to its parent.
type Executor struct {
	Schema      *graphql.Schema
	Client      *SubgraphClient
	MaxInFlight int
}

func NewExecutor(schema *graphql.Schema, client *SubgraphClient, maxInFlight int) *Executor {
	return &Executor{Schema: schema, Client: client, MaxInFlight: maxInFlight}
}

// Result is the client-facing outcome of running a Plan.
type Result struct {
	Data   map[string]interface{}
	Errors []error
}

// Execute runs plan against an initially empty ResponseTree and projects
// it through ss, the client's original (unflattened) selection set rooted
// at plan.Type.
func (e *Executor) Execute(ctx context.Context, plan *Plan, varDefs ast.VariableDefinitionList, variables map[string]interface{}, ss graphql.SelectionSet) *Result {
	ctx = concurrencylimiter.With(ctx, e.MaxInFlight)
	tree := graphql.NewResponseTree()

	errs := e.run(ctx, plan, tree, varDefs, variables)

	data, _ := Project(e.Schema, plan.Type, ss, tree.Snapshot())
	return &Result{Data: data, Errors: errs}
}

// ExecuteSeeded runs plan's After splits against an already-resolved root
// value instead of fetching one, used by the subscription bridge (spec.md
// §4.F): each upstream "next" event already IS the root plan's data, so
// only the cross-service splits still need a Fetch.
func (e *Executor) ExecuteSeeded(ctx context.Context, plan *Plan, seed map[string]interface{}, varDefs ast.VariableDefinitionList, variables map[string]interface{}, ss graphql.SelectionSet) *Result {
	ctx = concurrencylimiter.With(ctx, e.MaxInFlight)
	tree := graphql.NewResponseTree()
	if err := tree.Merge(plan.Path, seed); err != nil {
		return &Result{Errors: []error{err}}
	}

	errs := e.runAfter(ctx, plan, tree, varDefs, variables)

	data, _ := Project(e.Schema, plan.Type, ss, tree.Snapshot())
	return &Result{Data: data, Errors: errs}
}

func (e *Executor) run(ctx context.Context, plan *Plan, tree *graphql.ResponseTree, varDefs ast.VariableDefinitionList, variables map[string]interface{}) []error {
	var errs []error

	if plan.Service != "" && plan.Service != GatewayService {
		fetchErrs := e.fetch(ctx, plan, tree, varDefs, variables)
		errs = append(errs, fetchErrs...)
	}

	errs = append(errs, e.runAfter(ctx, plan, tree, varDefs, variables)...)
	return errs
}

// fetch sends plan's query to its service and splices the result into
// tree, either as a plain Merge (the root plan) or, when plan.KeyFields is
// set, as an _entities re-fetch spliced back into each representation's
// originating position (Flatten).
func (e *Executor) fetch(ctx context.Context, plan *Plan, tree *graphql.ResponseTree, varDefs ast.VariableDefinitionList, variables map[string]interface{}) []error {
	var entities []map[string]interface{}

	refs := map[string]bool{}
	collectVariableRefs(plan.SelectionSet, refs)
	vars := map[string]interface{}{}
	for k, v := range variables {
		if refs[k] {
			vars[k] = v
		}
	}

	if plan.KeyFields != nil {
		entities = tree.CollectEntities(plan.Path)
		if len(entities) == 0 {
			return nil
		}
		reprs := make([]map[string]interface{}, len(entities))
		for i, entity := range entities {
			reprs[i] = graphql.BuildRepresentation(entity, plan.Type, plan.KeyFields)
		}
		vars["representations"] = reprs
	}

	query := buildQuery(plan, varDefs)

	_, release := concurrencylimiter.Acquire(ctx)
	resp, err := e.Client.Execute(ctx, plan.Service, SubgraphRequest{Query: query, Variables: vars})
	release()
	if err != nil {
		return []error{nestFullPath(err, plan.Path)}
	}

	var errs []error
	for _, se := range resp.Errors {
		gqlErr := graphql.NewError(graphql.KindUpstreamGraphQLError, se.Message, nil)
		gqlErr.Path = append(stringPathToIface(plan.Path), se.Path...)
		errs = append(errs, gqlErr)
	}

	if plan.KeyFields == nil {
		if err := tree.Merge(plan.Path, resp.Data); err != nil {
			errs = append(errs, err)
		}
		return errs
	}

	rawEntities, _ := resp.Data["_entities"].([]interface{})
	results := make([]map[string]interface{}, 0, len(rawEntities))
	for _, r := range rawEntities {
		m, _ := r.(map[string]interface{})
		results = append(results, m)
	}
	if err := graphql.SpliceEntities(entities, results); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// runAfter dispatches plan.After either in Sequence or (the default) in
// Parallel via a bounded errgroup, per spec.md §4.E's Sequence/Parallel
// dispatch rules.
func (e *Executor) runAfter(ctx context.Context, plan *Plan, tree *graphql.ResponseTree, varDefs ast.VariableDefinitionList, variables map[string]interface{}) []error {
	if len(plan.After) == 0 {
		return nil
	}

	if plan.Sequential {
		var errs []error
		for _, sub := range plan.After {
			errs = append(errs, e.run(ctx, sub, tree, varDefs, variables)...)
		}
		return errs
	}

	var mu sync.Mutex
	var errs []error
	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range plan.After {
		sub := sub
		g.Go(func() error {
			subErrs := e.run(gctx, sub, tree, varDefs, variables)
			if len(subErrs) > 0 {
				mu.Lock()
				errs = append(errs, subErrs...)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// buildQuery renders plan's outgoing document: the plain operation for
// the root plan, or an _entities(representations: $representations)
// re-fetch for any split (spec.md §4.D.5).
func buildQuery(plan *Plan, varDefs ast.VariableDefinitionList) string {
	refs := map[string]bool{}
	collectVariableRefs(plan.SelectionSet, refs)

	var usedDefs ast.VariableDefinitionList
	for _, vd := range varDefs {
		if refs[vd.Variable] {
			usedDefs = append(usedDefs, vd)
		}
	}

	if plan.KeyFields == nil {
		op := &graphql.Operation{
			Type:         plan.Operation,
			VariableDefs: usedDefs,
			SelectionSet: plan.SelectionSet,
		}
		return graphql.Print(op)
	}

	entitiesSelection := &graphql.Selection{
		Name:  "_entities",
		Alias: "_entities",
		Arguments: []graphql.Argument{{
			Name:  "representations",
			Value: &ast.Value{Kind: ast.Variable, Raw: "representations"},
		}},
		SelectionSet: graphql.SelectionSet{
			Fragments: []*graphql.Fragment{{On: plan.Type, SelectionSet: plan.SelectionSet}},
		},
	}

	repsDef := &ast.VariableDefinition{
		Variable: "representations",
		Type:     &ast.Type{NonNull: true, Elem: &ast.Type{NonNull: true, NamedType: "_Any"}},
	}
	allDefs := append(ast.VariableDefinitionList{repsDef}, usedDefs...)

	op := &graphql.Operation{
		Type:         ast.Query,
		VariableDefs: allDefs,
		SelectionSet: graphql.SelectionSet{Selections: []*graphql.Selection{entitiesSelection}},
	}
	return graphql.Print(op)
}

func collectVariableRefs(ss graphql.SelectionSet, refs map[string]bool) {
	for _, sel := range ss.Selections {
		for _, arg := range sel.Arguments {
			collectValueVars(arg.Value, refs)
		}
		collectVariableRefs(sel.SelectionSet, refs)
	}
	for _, frag := range ss.Fragments {
		collectVariableRefs(frag.SelectionSet, refs)
	}
}

func collectValueVars(v *ast.Value, refs map[string]bool) {
	if v == nil {
		return
	}
	if v.Kind == ast.Variable {
		refs[v.Raw] = true
		return
	}
	for _, c := range v.Children {
		collectValueVars(c.Value, refs)
	}
}

// nestFullPath wraps err so it carries path, innermost segment first as
// produced by NestPathError's single-segment nesting applied once per
// path element from the end inward.
func nestFullPath(err error, path []string) error {
	for i := len(path) - 1; i >= 0; i-- {
		err = graphql.NestPathError(path[i], err)
	}
	return err
}

func stringPathToIface(path []string) []interface{} {
	out := make([]interface{}, len(path))
	for i, p := range path {
		out[i] = p
	}
	return out
}

// Project walks ss (the client's original selection set) against data,
// the finished ResponseTree rooted at typeName, applying the null
// propagation law as it unwinds: a null landing where the schema declares
// the field non-null bubbles the null up to the nearest enclosing
// nullable position instead of surfacing at its own, deeper, spot.
func Project(schema *graphql.Schema, typeName string, ss graphql.SelectionSet, data map[string]interface{}) (map[string]interface{}, bool) {
	if data == nil {
		return nil, false
	}

	def := schema.Lookup(typeName)
	out := map[string]interface{}{}

	for _, sel := range ss.Selections {
		key := sel.ResponseKey()
		if sel.Name == "__typename" {
			out[key] = data[key]
			continue
		}
		val, present := data[key]
		if !present {
			continue
		}
		var ft *ast.Type
		if def != nil {
			if fd := fieldDef(def, sel.Name); fd != nil {
				ft = fd.Type
			}
		}
		projected, isNull := projectTyped(schema, ft, sel, val)
		if isNull {
			return nil, true
		}
		out[key] = projected
	}

	typename, _ := data["__typename"].(string)
	for _, frag := range ss.Fragments {
		if typename != "" && !typeConditionMatches(schema, frag.On, typename) {
			continue
		}
		sub, isNull := Project(schema, frag.On, frag.SelectionSet, data)
		if isNull {
			return nil, true
		}
		for k, v := range sub {
			out[k] = v
		}
	}

	return out, false
}

// projectTyped projects a single field's value, unwrapping list dimensions
// per t and recursing into Project for object-shaped values.
func projectTyped(schema *graphql.Schema, t *ast.Type, sel *graphql.Selection, val interface{}) (interface{}, bool) {
	if val == nil {
		return nil, t != nil && t.NonNull
	}

	if t != nil && t.Elem != nil {
		list, ok := val.([]interface{})
		if !ok {
			return val, false
		}
		out := make([]interface{}, len(list))
		nulled := false
		for i, item := range list {
			pv, isNull := projectTyped(schema, t.Elem, sel, item)
			if isNull {
				nulled = true
			}
			out[i] = pv
		}
		if nulled && t.Elem.NonNull {
			return nil, t.NonNull
		}
		return out, false
	}

	if sel.SelectionSet.Empty() {
		return val, false
	}

	obj, ok := val.(map[string]interface{})
	if !ok {
		return val, false
	}
	typeName := ""
	if t != nil {
		typeName = t.NamedType
	}
	sub, isNull := Project(schema, typeName, sel.SelectionSet, obj)
	if isNull {
		return nil, t != nil && t.NonNull
	}
	return sub, false
}

// typeConditionMatches reports whether a concrete response's __typename
// satisfies a fragment's type condition on (itself, an interface it
// implements, or a union it belongs to).
func typeConditionMatches(schema *graphql.Schema, on, typename string) bool {
	if on == typename {
		return true
	}
	concrete := schema.Lookup(typename)
	if concrete == nil {
		return false
	}
	for _, i := range concrete.Interfaces {
		if i == on {
			return true
		}
	}
	for _, p := range schema.AST.PossibleTypes[on] {
		if p.Name == typename {
			return true
		}
	}
	return false
}
