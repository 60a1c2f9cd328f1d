package federation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sdlServer(t *testing.T, sdl string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sdl))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSchemaSyncer_Compose(t *testing.T) {
	users := sdlServer(t, `
		type Query { me: User }
		type User @key(fields: "id") @owner { id: ID! name: String! }
	`)
	reviews := sdlServer(t, `
		type Query { q: String }
		type User @key(fields: "id") { id: ID! reviews: [String!]! }
	`)

	services := ServiceList{
		{Name: "users", Addr: users.URL, QueryPath: "/graphql", IntrospectionPath: "/sdl"},
		{Name: "reviews", Addr: reviews.URL, QueryPath: "/graphql", IntrospectionPath: "/sdl"},
	}

	syncer := NewSchemaSyncer(services, nil)
	compiled, err := syncer.Compose(context.Background())
	require.NoError(t, err)

	owner, ok := compiled.Schema.Owner("User")
	require.True(t, ok)
	assert.Equal(t, "users", owner)
	assert.Equal(t, users.URL+"/graphql", compiled.Client.Endpoints["users"])
	assert.Equal(t, reviews.URL+"/graphql", compiled.Client.Endpoints["reviews"])
}

func TestSchemaSyncer_FetchError(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	dead.Close()

	services := ServiceList{{Name: "gone", Addr: dead.URL, QueryPath: "/graphql", IntrospectionPath: "/sdl"}}
	syncer := NewSchemaSyncer(services, nil)

	_, err := syncer.Compose(context.Background())
	assert.Error(t, err)
}

func TestSchemaRegistry_Swap(t *testing.T) {
	users := sdlServer(t, `
		type Query { me: String }
	`)
	services := ServiceList{{Name: "users", Addr: users.URL, QueryPath: "/graphql", IntrospectionPath: "/sdl"}}
	syncer := NewSchemaSyncer(services, nil)

	first, err := syncer.Compose(context.Background())
	require.NoError(t, err)
	registry := NewSchemaRegistry(first)
	assert.Same(t, first, registry.Current())

	second, err := syncer.Compose(context.Background())
	require.NoError(t, err)
	registry.Swap(second)
	assert.Same(t, second, registry.Current())
	assert.NotSame(t, first, registry.Current())
}
