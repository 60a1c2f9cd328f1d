package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/async-graphql/graphgate/graphql"
)

// jsonServer spins up a subgraph stand-in that decodes every incoming
// SubgraphRequest and hands it to handler to compute a response, the same
// request/response contract the real Executor.fetch speaks over
// transport.go's SubgraphClient.
func jsonServer(t *testing.T, handler func(SubgraphRequest) SubgraphResponse) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SubgraphRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(handler(req)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// composeAndPlan composes subgraphs into a schema and returns it alongside
// a Planner and a SubgraphClient addressed at endpoints, the trio every
// test below needs to drive a full validate/plan/execute cycle.
func composeAndPlan(t *testing.T, subgraphs []Subgraph, endpoints map[string]string) (*graphql.Schema, *Planner, *SubgraphClient) {
	schema, err := Compose(subgraphs)
	require.NoError(t, err)
	return schema, NewPlanner(schema), NewSubgraphClient(nil, endpoints)
}

// runQuery executes query against schema through the full
// validate/plan/execute pipeline, exactly as Gateway.Run does.
func runQuery(t *testing.T, schema *graphql.Schema, planner *Planner, client *SubgraphClient, query string, variables map[string]interface{}) *Result {
	doc, err := Validate(schema, query, "")
	require.NoError(t, err)
	op, err := SelectOperation(doc, "")
	require.NoError(t, err)
	plan, err := planner.Plan(op, doc.Fragments)
	require.NoError(t, err)

	ss := graphql.FromAST(op.SelectionSet, doc.Fragments)
	executor := NewExecutor(schema, client, 10)
	return executor.Execute(context.Background(), plan, op.VariableDefinitions, variables, ss)
}

func TestExecutor_SingleService(t *testing.T) {
	users := jsonServer(t, func(req SubgraphRequest) SubgraphResponse {
		return SubgraphResponse{Data: map[string]interface{}{
			"me": map[string]interface{}{"id": "1", "name": "Ada"},
		}}
	})

	schema, planner, client := composeAndPlan(t, []Subgraph{
		{Name: "users", SDL: `
			type Query { me: User }
			type User { id: ID! name: String! }
		`},
	}, map[string]string{"users": users.URL})

	res := runQuery(t, schema, planner, client, `{ me { name } }`, nil)
	require.Empty(t, res.Errors)
	assert.Equal(t, map[string]interface{}{
		"me": map[string]interface{}{"name": "Ada"},
	}, res.Data)
}

func TestExecutor_CrossServiceFetch(t *testing.T) {
	users := jsonServer(t, func(req SubgraphRequest) SubgraphResponse {
		return SubgraphResponse{Data: map[string]interface{}{
			"me": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
		}}
	})
	reviews := jsonServer(t, func(req SubgraphRequest) SubgraphResponse {
		reprs, _ := req.Variables["representations"].([]interface{})
		require.Len(t, reprs, 1)
		repr, _ := reprs[0].(map[string]interface{})
		assert.Equal(t, "1", repr["id"])
		return SubgraphResponse{Data: map[string]interface{}{
			"_entities": []interface{}{
				map[string]interface{}{"reviews": []interface{}{"great product"}},
			},
		}}
	})

	schema, planner, client := composeAndPlan(t, []Subgraph{
		{Name: "users", SDL: `
			type Query { me: User }
			type User @key(fields: "id") @owner { id: ID! name: String! }
		`},
		{Name: "reviews", SDL: `
			type Query { q: String }
			type User @key(fields: "id") { id: ID! reviews: [String!]! }
		`},
	}, map[string]string{"users": users.URL, "reviews": reviews.URL})

	res := runQuery(t, schema, planner, client, `{ me { name reviews } }`, nil)
	require.Empty(t, res.Errors)
	assert.Equal(t, map[string]interface{}{
		"me": map[string]interface{}{"name": "Ada", "reviews": []interface{}{"great product"}},
	}, res.Data)
}

func TestExecutor_RequiresFieldHiddenFromClient(t *testing.T) {
	products := jsonServer(t, func(req SubgraphRequest) SubgraphResponse {
		return SubgraphResponse{Data: map[string]interface{}{
			"product": map[string]interface{}{"__typename": "Product", "id": "1", "price": 10, "weight": 2},
		}}
	})
	shipping := jsonServer(t, func(req SubgraphRequest) SubgraphResponse {
		reprs, _ := req.Variables["representations"].([]interface{})
		repr, _ := reprs[0].(map[string]interface{})
		assert.EqualValues(t, 10, repr["price"])
		assert.EqualValues(t, 2, repr["weight"])
		return SubgraphResponse{Data: map[string]interface{}{
			"_entities": []interface{}{
				map[string]interface{}{"shippingEstimate": 5},
			},
		}}
	})

	schema, planner, client := composeAndPlan(t, []Subgraph{
		{Name: "products", SDL: `
			type Query { product: Product }
			type Product @key(fields: "id") @owner { id: ID! price: Int! weight: Int! }
		`},
		{Name: "shipping", SDL: `
			type Query { q: String }
			type Product @key(fields: "id") {
				id: ID!
				shippingEstimate: Int! @requires(fields: "weight price")
			}
		`},
	}, map[string]string{"products": products.URL, "shipping": shipping.URL})

	res := runQuery(t, schema, planner, client, `{ product { shippingEstimate } }`, nil)
	require.Empty(t, res.Errors)
	assert.Equal(t, map[string]interface{}{
		"product": map[string]interface{}{"shippingEstimate": 5},
	}, res.Data)
}

func TestExecutor_NullPropagatesToNearestNullableAncestor(t *testing.T) {
	users := jsonServer(t, func(req SubgraphRequest) SubgraphResponse {
		return SubgraphResponse{Data: map[string]interface{}{
			"me": map[string]interface{}{"id": "1", "name": nil},
		}}
	})

	schema, planner, client := composeAndPlan(t, []Subgraph{
		{Name: "users", SDL: `
			type Query { me: User }
			type User { id: ID! name: String! }
		`},
	}, map[string]string{"users": users.URL})

	res := runQuery(t, schema, planner, client, `{ me { name } }`, nil)
	assert.Equal(t, map[string]interface{}{"me": nil}, res.Data)
}

func TestExecutor_PartialUpstreamErrorCarriesPath(t *testing.T) {
	users := jsonServer(t, func(req SubgraphRequest) SubgraphResponse {
		return SubgraphResponse{
			Data: map[string]interface{}{"me": map[string]interface{}{"id": "1", "name": nil}},
			Errors: []SubgraphError{
				{Message: "could not resolve name", Path: []interface{}{"me", "name"}},
			},
		}
	})

	schema, planner, client := composeAndPlan(t, []Subgraph{
		{Name: "users", SDL: `
			type Query { me: User }
			type User { id: ID! name: String }
		`},
	}, map[string]string{"users": users.URL})

	res := runQuery(t, schema, planner, client, `{ me { name } }`, nil)
	require.Len(t, res.Errors, 1)
	typed, ok := res.Errors[0].(*graphql.Error)
	require.True(t, ok)
	assert.Equal(t, []interface{}{"me", "name"}, typed.Path)
}

func TestExecutor_AbstractTypeMergesPerConcreteType(t *testing.T) {
	search := jsonServer(t, func(req SubgraphRequest) SubgraphResponse {
		return SubgraphResponse{Data: map[string]interface{}{
			"search": []interface{}{
				map[string]interface{}{"__typename": "User", "name": "Ada"},
				map[string]interface{}{"__typename": "House", "name": "Blue House"},
			},
		}}
	})

	schema, planner, client := composeAndPlan(t, []Subgraph{
		{Name: "search", SDL: `
			type Query { search: [Result!]! }
			union Result = User | House
			type User @owner { name: String! }
			type House @owner { name: String! }
		`},
	}, map[string]string{"search": search.URL})

	res := runQuery(t, schema, planner, client, `{ search { ... on User { name } ... on House { name } } }`, nil)
	require.Empty(t, res.Errors)
	assert.Equal(t, map[string]interface{}{
		"search": []interface{}{
			map[string]interface{}{"name": "Ada"},
			map[string]interface{}{"name": "Blue House"},
		},
	}, res.Data)
}
