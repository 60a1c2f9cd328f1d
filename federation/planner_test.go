package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

func planQuery(t *testing.T, planner *Planner, query string) *Plan {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	require.NoError(t, err)
	op, err := SelectOperation(doc, "")
	require.NoError(t, err)
	plan, err := planner.Plan(op, doc.Fragments)
	require.NoError(t, err)
	return plan
}

func TestPlanner_SingleService(t *testing.T) {
	schema, err := Compose([]Subgraph{{Name: "users", SDL: `
		type Query { me: User }
		type User { id: ID! name: String! }
	`}})
	require.NoError(t, err)
	planner := NewPlanner(schema)

	plan := planQuery(t, planner, `{ me { name } }`)
	assert.Equal(t, "users", plan.Service)
	assert.Empty(t, plan.After)
	require.Len(t, plan.SelectionSet.Selections, 1)
	assert.Equal(t, "me", plan.SelectionSet.Selections[0].Name)
}

func TestPlanner_SplitAcrossServices(t *testing.T) {
	schema, err := Compose([]Subgraph{
		{Name: "users", SDL: `
			type Query { me: User }
			type User @key(fields: "id") @owner {
				id: ID!
				name: String!
			}
		`},
		{Name: "reviews", SDL: `
			type Query { q: String }
			type User @key(fields: "id") {
				id: ID!
				reviews: [String!]!
			}
		`},
	})
	require.NoError(t, err)
	planner := NewPlanner(schema)

	plan := planQuery(t, planner, `{ me { name reviews } }`)
	assert.Equal(t, "users", plan.Service)
	require.Len(t, plan.After, 1)

	sub := plan.After[0]
	assert.Equal(t, "reviews", sub.Service)
	assert.Equal(t, "User", sub.Type)
	require.NotEmpty(t, sub.KeyFields)
	require.Len(t, sub.SelectionSet.Selections, 1)
	assert.Equal(t, "reviews", sub.SelectionSet.Selections[0].Name)
}

func TestPlanner_RequiresAugmentsOwnerFetch(t *testing.T) {
	schema, err := Compose([]Subgraph{
		{Name: "products", SDL: `
			type Query { product: Product }
			type Product @key(fields: "id") @owner {
				id: ID!
				price: Int!
				weight: Int!
			}
		`},
		{Name: "shipping", SDL: `
			type Query { q: String }
			type Product @key(fields: "id") {
				id: ID!
				shippingEstimate: Int! @requires(fields: "weight price")
			}
		`},
	})
	require.NoError(t, err)
	planner := NewPlanner(schema)

	plan := planQuery(t, planner, `{ product { shippingEstimate } }`)
	assert.Equal(t, "products", plan.Service)

	require.Len(t, plan.SelectionSet.Selections, 1)
	productField := plan.SelectionSet.Selections[0]
	assert.Equal(t, "product", productField.Name)

	names := map[string]bool{}
	for _, sel := range productField.SelectionSet.Selections {
		names[sel.Name] = true
	}
	assert.True(t, names["weight"])
	assert.True(t, names["price"])

	require.Len(t, plan.After, 1)
	assert.Equal(t, "shipping", plan.After[0].Service)
}

func TestPlanner_MutationRootIsSequential(t *testing.T) {
	schema, err := Compose([]Subgraph{
		{Name: "a", SDL: `
			type Query { q: String }
			type Mutation @owner {
				doA: String
			}
		`},
		{Name: "b", SDL: `
			type Query { q2: String }
			type Mutation {
				doB: String
			}
		`},
	})
	require.NoError(t, err)
	planner := NewPlanner(schema)

	plan := planQuery(t, planner, `mutation { doA doB }`)
	assert.True(t, plan.Sequential)
}

func TestPlanner_AbstractTypeRoutesPerConcreteType(t *testing.T) {
	schema, err := Compose([]Subgraph{
		{Name: "search", SDL: `
			type Query { search: [Result!]! }
			union Result = User | House
			type User @owner { name: String! }
			type House @owner { name: String! }
		`},
	})
	require.NoError(t, err)
	planner := NewPlanner(schema)

	plan := planQuery(t, planner, `{ search { ... on User { name } ... on House { name } } }`)
	require.Len(t, plan.SelectionSet.Selections, 1)
	inner := plan.SelectionSet.Selections[0].SelectionSet
	require.Len(t, inner.Fragments, 2)
}
