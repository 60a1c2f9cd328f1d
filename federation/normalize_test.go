package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/async-graphql/graphgate/graphql"
)

func buildNormalizeTestSchema(t *testing.T) *graphql.Schema {
	schema, err := Compose([]Subgraph{{Name: "svc", SDL: `
		type Query {
			users: [User!]!
			search: [SearchResult!]!
		}
		type User {
			name: String!
			friends(limit: Int): [User!]!
			self: User!
		}
		type House {
			name: String!
			users: [User!]!
		}
		union SearchResult = User | House
	`}})
	require.NoError(t, err)
	return schema
}

func normalize(t *testing.T, f *flattener, query string, rootType string) (string, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	require.NoError(t, err)
	ss := graphql.FromAST(doc.Operations[0].SelectionSet, doc.Fragments)
	flat, err := f.flatten(ss, &ast.Type{NamedType: rootType})
	if err != nil {
		return "", err
	}
	return graphql.Print(&graphql.Operation{Type: ast.Query, SelectionSet: flat}), nil
}

func TestFlattener(t *testing.T) {
	schema := buildNormalizeTestSchema(t)
	f := newFlattener(schema)

	testCases := []struct {
		name   string
		input  string
		output string
		error  string
	}{
		{
			name:   "trivial",
			input:  `{ users { name } }`,
			output: `{ users { name } }`,
		},
		{
			name:   "just a fragment",
			input:  `{ users { ... on User { name } } }`,
			output: `{ users { name } }`,
		},
		{
			name: "dedup",
			input: `{
				users {
					name
					name
					allFriends: friends { name }
					foo: name
					friends(limit: 10) { name }
					allFriends: friends { name }
				}
			}`,
			output: `{
				users {
					allFriends: friends { name }
					foo: name
					friends(limit: 10) { name }
					name
				}
			}`,
		},
		{
			name: "dedup nested",
			input: `{
				users {
					friends(limit: 10) { foo: name name }
					friends(limit: 10) { bar: name name }
				}
			}`,
			output: `{
				users {
					friends(limit: 10) { bar: name foo: name name }
				}
			}`,
		},
		{
			name: "dedup fragments",
			input: `{
				users {
					name
					... on User {
						name
						... Foo
					}
				}
			}
			fragment Foo on User { name }`,
			output: `{ users { name } }`,
		},
		{
			name: "mismatched alias names",
			input: `{
				users {
					foo: name
					foo: self { name }
				}
			}`,
			error: "different field names",
		},
		{
			name: "union",
			input:  `{ search { __typename } }`,
			output: `{ search { ... on House { __typename } ... on User { __typename } } }`,
		},
		{
			name: "union dedup and inline",
			input: `{
				search { __typename }
				search { ... on House { name } }
				search { ... on House { users { name name } } }
				search { ... on User { name } }
			}`,
			output: `{
				search {
					... on House { __typename name users { name } }
					... on User { __typename name }
				}
			}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalize(t, f, tc.input, "Query")
			if tc.error != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.error)
				return
			}
			require.NoError(t, err)

			want, err := normalize(t, f, tc.output, "Query")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}
