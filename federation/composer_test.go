package federation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/async-graphql/graphgate/federation"
)

func TestCompose_SingleService(t *testing.T) {
	schema, err := federation.Compose([]federation.Subgraph{
		{Name: "users", SDL: `
			type Query {
				me: User
			}
			type User {
				id: ID!
				name: String!
			}
		`},
	})
	require.NoError(t, err)
	require.NotNil(t, schema.AST.Query)
	assert.Equal(t, "Query", schema.AST.Query.Name)
	assert.NotNil(t, schema.Lookup("User"))
}

func TestCompose_EntityOwnerAndExtension(t *testing.T) {
	schema, err := federation.Compose([]federation.Subgraph{
		{Name: "users", SDL: `
			type Query {
				me: User
			}
			type User @key(fields: "id") @owner {
				id: ID!
				name: String!
			}
		`},
		{Name: "reviews", SDL: `
			type Query {
				_service: String
			}
			type User @key(fields: "id") {
				id: ID!
				reviews: [String!]!
			}
		`},
	})
	require.NoError(t, err)

	owner, ok := schema.Owner("User")
	require.True(t, ok)
	assert.Equal(t, "users", owner)

	svc, ok := schema.ResolvingService("User", "name")
	require.True(t, ok)
	assert.Equal(t, "users", svc)

	svc, ok = schema.ResolvingService("User", "reviews")
	require.True(t, ok)
	assert.Equal(t, "reviews", svc)

	keys := schema.KeysFor("User")
	require.Len(t, keys, 2)
}

func TestCompose_MissingOwner(t *testing.T) {
	_, err := federation.Compose([]federation.Subgraph{
		{Name: "users", SDL: `
			type Query { me: User }
			type User @key(fields: "id") {
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
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MissingOwner")
}

func TestCompose_ConflictingFieldTypes(t *testing.T) {
	_, err := federation.Compose([]federation.Subgraph{
		{Name: "a", SDL: `
			type Query { me: User }
			type User @owner {
				id: ID!
				age: Int!
			}
		`},
		{Name: "b", SDL: `
			type Query { q: String }
			type User {
				age: String!
			}
		`},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ConflictingFieldTypes")
}

func TestCompose_ScalarConflict(t *testing.T) {
	_, err := federation.Compose([]federation.Subgraph{
		{Name: "a", SDL: `
			type Query { q: String }
			enum Status { ACTIVE INACTIVE }
		`},
		{Name: "b", SDL: `
			type Query { q2: String }
			enum Status { ACTIVE DISABLED }
		`},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ScalarConflict")
}

func TestCompose_InvalidKey(t *testing.T) {
	_, err := federation.Compose([]federation.Subgraph{
		{Name: "a", SDL: `
			type Query { me: User }
			type User @key(fields: "missingField") @owner {
				id: ID!
			}
		`},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidKey")
}

func TestCompose_ProvidesAndRequires(t *testing.T) {
	schema, err := federation.Compose([]federation.Subgraph{
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

	info := schema.FieldInfo("Product", "shippingEstimate")
	require.NotNil(t, info)
	assert.Equal(t, "shipping", info.ResolveIn)
	require.NotEmpty(t, info.Requires)
}

func TestCompose_DeterministicAcrossOrder(t *testing.T) {
	subgraphsA := []federation.Subgraph{
		{Name: "b", SDL: `type Query { x: String }`},
		{Name: "a", SDL: `type Query { y: String }`},
	}
	subgraphsB := []federation.Subgraph{
		{Name: "a", SDL: `type Query { y: String }`},
		{Name: "b", SDL: `type Query { x: String }`},
	}
	schemaA, errA := federation.Compose(subgraphsA)
	schemaB, errB := federation.Compose(subgraphsB)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, schemaA.AST.Query.Fields, schemaB.AST.Query.Fields)
}
