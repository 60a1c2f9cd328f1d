package federation

import (
	"sort"

	"github.com/samsarahq/go/oops"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/async-graphql/graphgate/graphql"
)

// GatewayService is the pseudo service name the root Plan is built against:
// no subgraph is ever named this, so every real field routes away from it
// into a genuine After split. Only root-level __typename, __schema and
// __type selections ever remain directly on it, and the executor fetches
// nothing for them.
const GatewayService = "$gateway"

// Plan is a sub-query resolvable by a single service, plus the further
// splits needed once its result is available. Grounded on thunder's
// federation/planner.go Plan/PathStep, generalized: Path is now a plain
// field-alias path into a graphql.ResponseTree (thunder's Kind-tagged
// PathStep distinguished object vs. union branches, which isn't needed
// here since ResponseTree navigation only ever sees concrete response
// keys, never a type condition); Service/ResolveIn decisions come from
// FieldInfo.Owner/ResolveIn rather than a Services set; KeyFields and
// Synthetic are new, carrying the @key representation shape and the
// response keys the planner injected purely to satisfy a downstream
// @requires (spec.md §9's open question on synthetic aliasing).
type Plan struct {
	// Path is where this plan's result belongs in the overall
	// ResponseTree: empty for the root plan, otherwise the field-alias
	// path down to the entity this plan extends.
	Path []string
	// Service is the subgraph this plan's SelectionSet must be sent to.
	Service string
	// Operation is query or mutation; every Plan below the root is always
	// a query, since only the root mutation fields run as a mutation.
	Operation ast.Operation
	// Type is the object type SelectionSet is nested under, used to build
	// the _entities representation for this plan when it isn't the root.
	Type string
	// KeyFields is the representation field-set for this plan's _entities
	// re-fetch: the @key field-set its service declared for Type plus the
	// @requires fields of its selections. It is nil for the root plan and
	// for splits off a root operation type, which have no parent entity to
	// re-fetch.
	KeyFields ast.SelectionSet
	// SelectionSet is what this plan asks its service for.
	SelectionSet graphql.SelectionSet
	// Synthetic lists response keys in SelectionSet that the planner
	// injected to supply an after-split's @key or @requires fields and that
	// must not appear in the result the client sees.
	Synthetic []string
	// After holds the splits needed once this plan's data lands in the
	// ResponseTree: a split with KeyFields is flattened against Path and
	// fetched as an _entities re-fetch; a split without KeyFields is a
	// plain fetch merged at Path.
	After []*Plan
	// Sequential forces After to run in Sequence instead of Parallel: set
	// on the root plan for a mutation, where top-level splits must run in
	// the client's field order per GraphQL's serial-mutation rule.
	Sequential bool
}

// Planner turns a flattened operation into a Plan, per spec.md §4.D.
type Planner struct {
	schema    *graphql.Schema
	flattener *flattener
}

func NewPlanner(schema *graphql.Schema) *Planner {
	return &Planner{schema: schema, flattener: newFlattener(schema)}
}

// Plan flattens op's selection set and plans it against the schema's root
// object for op.Operation.
func (p *Planner) Plan(op *ast.OperationDefinition, fragments ast.FragmentDefinitionList) (*Plan, error) {
	root := p.schema.RootObject(op.Operation)
	if root == nil {
		return nil, oops.Errorf("schema declares no root type for %s", op.Operation)
	}

	raw := graphql.FromAST(op.SelectionSet, fragments)
	flat, err := p.flattener.flatten(raw, &ast.Type{NamedType: root.Name})
	if err != nil {
		return nil, oops.Wrapf(err, "normalizing operation")
	}

	plan, err := p.planObject(root, flat, GatewayService, nil)
	if err != nil {
		return nil, err
	}
	plan.Operation = op.Operation
	if op.Operation == ast.Mutation {
		plan.Sequential = true
		// An uncollapsed gateway plan's After entries are the root mutation
		// fields themselves, split per service.
		if plan.Service == GatewayService {
			for _, sub := range plan.After {
				sub.Operation = ast.Mutation
			}
		}
	}
	return plan, nil
}

// isLocalField reports whether a field is never routed to a service of its
// own: __typename travels in whichever fetch selects its parent, and
// __schema/__type stay on the gateway plan, which fetches nothing.
func isLocalField(name string) bool {
	switch name {
	case "__typename", "__schema", "__type":
		return true
	}
	return false
}

// selectService returns which service must resolve typeName.fieldName, or
// "" if the field is answered locally by the gateway.
func (p *Planner) selectService(typeName, currentService, fieldName string) string {
	if isLocalField(fieldName) {
		return ""
	}
	if target, ok := p.schema.ResolvingService(typeName, fieldName); ok {
		return target
	}
	return currentService
}

// planObject plans ss (already flattened, so it carries no fragments)
// against an object type, splitting off one sub-Plan per service other
// than the current one that owns some of its fields.
func (p *Planner) planObject(typ *ast.Definition, ss graphql.SelectionSet, service string, path []string) (*Plan, error) {
	plan := &Plan{
		Path:      append([]string(nil), path...),
		Service:   service,
		Operation: ast.Query,
		Type:      typ.Name,
	}

	var localSelections []*graphql.Selection
	selectionsByService := map[string][]*graphql.Selection{}

	for _, sel := range ss.Selections {
		target := p.selectService(typ.Name, service, sel.Name)
		if target == "" || target == service {
			localSelections = append(localSelections, sel)
		} else {
			selectionsByService[target] = append(selectionsByService[target], sel)
		}
	}

	existingKeys := map[string]bool{}
	for _, sel := range localSelections {
		existingKeys[sel.ResponseKey()] = true
	}

	// Requires augmentation (spec.md §4.D.3): every field about to be
	// split off to another service may require fields only the current
	// service can provide; pull those into the local selection set,
	// remembering which ones the client never asked for.
	var synthetic []string
	for _, sels := range selectionsByService {
		for _, sel := range sels {
			info := p.schema.FieldInfo(typ.Name, sel.Name)
			if info == nil || len(info.Requires) == 0 {
				continue
			}
			for _, req := range astSelectionSetToGraphQL(info.Requires).Selections {
				if existingKeys[req.ResponseKey()] {
					continue
				}
				existingKeys[req.ResponseKey()] = true
				synthetic = append(synthetic, req.ResponseKey())
				localSelections = append(localSelections, req)
			}
		}
	}
	// Key augmentation: each entity split builds its representations from
	// this fetch's result, so the split service's @key fields are fetched too.
	if service != GatewayService {
		for other := range selectionsByService {
			keyFields, err := keyFieldsForService(p.schema.KeysFor(typ.Name), typ.Name, other)
			if err != nil {
				return nil, err
			}
			for _, key := range astSelectionSetToGraphQL(keyFields).Selections {
				if !existingKeys[key.ResponseKey()] {
					existingKeys[key.ResponseKey()] = true
					synthetic = append(synthetic, key.ResponseKey())
					localSelections = append(localSelections, key)
				}
			}
		}
	}
	sort.Strings(synthetic)
	plan.Synthetic = synthetic

	var finalLocal []*graphql.Selection
	var after []*Plan
	for _, sel := range localSelections {
		clone := *sel
		if !isLocalField(sel.Name) && !sel.SelectionSet.Empty() {
			fd := fieldDef(typ, sel.Name)
			if fd == nil {
				return nil, oops.Errorf("type %s has no field %s", typ.Name, sel.Name)
			}
			childPath := append(append([]string(nil), path...), sel.ResponseKey())
			childPlan, err := p.planType(fd.Type, sel.SelectionSet, service, childPath)
			if err != nil {
				return nil, oops.Wrapf(err, "planning %s.%s", typ.Name, sel.Name)
			}
			clone.SelectionSet = childPlan.SelectionSet
			after = append(after, childPlan.After...)
		}
		finalLocal = append(finalLocal, &clone)
	}
	plan.SelectionSet.Selections = finalLocal

	var others []string
	for svc := range selectionsByService {
		others = append(others, svc)
	}
	sort.Strings(others)

	keys := p.schema.KeysFor(typ.Name)
	for _, other := range others {
		subPlan, err := p.planObject(typ, graphql.SelectionSet{Selections: selectionsByService[other]}, other, path)
		if err != nil {
			return nil, err
		}
		// A split off the root operation type is a plain root Fetch, not an
		// _entities re-fetch: Query/Mutation carry no @key (there is no
		// parent entity to represent), so only entity-type splits need a
		// representation at all.
		if service != GatewayService {
			keyFields, err := keyFieldsForService(keys, typ.Name, other)
			if err != nil {
				return nil, err
			}
			subPlan.KeyFields = p.representationFields(typ.Name, keyFields, selectionsByService[other])
		}
		after = append(after, subPlan)
	}

	plan.After = after

	// The root plan is built against the synthetic GatewayService, which no
	// subgraph is ever named, so every one of its own fields always routes
	// away into an After split (spec.md §4.D.1). When exactly one subgraph
	// ends up owning the whole operation, that split is the only After
	// entry and the gateway plan itself carries nothing: collapse it away
	// so the Plan returned to the caller is the real Fetch, not an empty
	// wrapper around it.
	if service == GatewayService && len(finalLocal) == 0 && len(plan.After) == 1 {
		return plan.After[0], nil
	}

	return plan, nil
}

// planAbstract plans a flattened selection set over an interface or union:
// one inline fragment per possible concrete type, each independently
// planned (and possibly routed to a different owner) per spec.md §4.D.6.
func (p *Planner) planAbstract(def *ast.Definition, ss graphql.SelectionSet, service string, path []string) (*Plan, error) {
	plan := &Plan{
		Path:      append([]string(nil), path...),
		Service:   service,
		Operation: ast.Query,
		Type:      def.Name,
	}

	var after []*Plan
	for _, frag := range ss.Fragments {
		concrete := p.schema.Lookup(frag.On)
		if concrete == nil {
			return nil, oops.Errorf("unknown concrete type %s for fragment on %s", frag.On, def.Name)
		}
		concretePlan, err := p.planObject(concrete, frag.SelectionSet, service, path)
		if err != nil {
			return nil, err
		}
		plan.SelectionSet.Fragments = append(plan.SelectionSet.Fragments, &graphql.Fragment{
			On:           frag.On,
			SelectionSet: concretePlan.SelectionSet,
		})
		after = append(after, concretePlan.After...)
	}
	plan.After = after
	return plan, nil
}

// planType dispatches to planObject/planAbstract based on the schema kind
// named by t, or returns an empty leaf Plan for scalar/enum fields (which
// need no further planning).
func (p *Planner) planType(t *ast.Type, ss graphql.SelectionSet, service string, path []string) (*Plan, error) {
	named := graphql.NamedTypeOf(t)
	def := p.schema.Lookup(named)
	if def == nil {
		return &Plan{Path: path, Service: service}, nil
	}
	switch def.Kind {
	case ast.Object:
		return p.planObject(def, ss, service, path)
	case ast.Interface, ast.Union:
		return p.planAbstract(def, ss, service, path)
	default:
		return &Plan{Path: path, Service: service}, nil
	}
}

// representationFields extends a split's @key field-set with whatever
// @requires field-sets its own selections declare, so the _entities
// representation sent downstream actually carries the values the
// requiring service's resolver needs (spec.md §4.D.3): the owner fetch
// above already augmented its local selection to fetch these fields (see
// the "Requires augmentation" comment in planObject), but that augmented
// data only reaches the split's service if the representation asks for it
// too.
func (p *Planner) representationFields(typeName string, keyFields ast.SelectionSet, splitSelections []*graphql.Selection) ast.SelectionSet {
	out := append(ast.SelectionSet(nil), keyFields...)
	seen := map[string]bool{}
	for _, f := range keyFields {
		if field, ok := f.(*ast.Field); ok {
			seen[field.Name] = true
		}
	}
	for _, sel := range splitSelections {
		info := p.schema.FieldInfo(typeName, sel.Name)
		if info == nil || len(info.Requires) == 0 {
			continue
		}
		for _, req := range info.Requires {
			field, ok := req.(*ast.Field)
			if !ok || seen[field.Name] {
				continue
			}
			seen[field.Name] = true
			out = append(out, req)
		}
	}
	return out
}

// keyFieldsForService finds the @key field-set that service declared for
// typeName, the representation shape its _entities re-fetch expects.
func keyFieldsForService(keys []graphql.Key, typeName, service string) (ast.SelectionSet, error) {
	for _, k := range keys {
		if k.Service == service {
			return k.Fields, nil
		}
	}
	return nil, oops.Errorf("service %s has no @key declared for %s", service, typeName)
}

// astSelectionSetToGraphQL converts a directive field-set (a plain,
// fragment-free ast.SelectionSet as produced by fieldSetArg) into the
// gateway's own SelectionSet model, so @requires/@key field-sets can be
// merged into a planned query the same way a regular client selection is.
func astSelectionSetToGraphQL(ss ast.SelectionSet) graphql.SelectionSet {
	var out graphql.SelectionSet
	for _, s := range ss {
		f, ok := s.(*ast.Field)
		if !ok {
			continue
		}
		out.Selections = append(out.Selections, &graphql.Selection{
			Name:         f.Name,
			Alias:        f.Name,
			SelectionSet: astSelectionSetToGraphQL(f.SelectionSet),
		})
	}
	return out
}
