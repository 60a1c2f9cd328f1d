package federation

import (
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/async-graphql/graphgate/graphql"
)

// Validate parses and validates a client request against the composed
// schema's AST, the same rules a single-service GraphQL server would apply
// (the spec's Validator module, C): unknown fields, wrong argument types,
// invalid fragment conditions, and so on all surface here, before planning
// ever starts. Reuses gqlparser/v2/validator wholesale rather than
// reimplementing standard GraphQL validation rules.
func Validate(schema *graphql.Schema, query string, operationName string) (*ast.QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "query", Input: query})
	if err != nil {
		if gqlErr, ok := err.(*gqlerror.Error); ok {
			return nil, graphqlErrorFromGQLError(gqlErr, graphql.KindParseError)
		}
		return nil, graphql.NewError(graphql.KindParseError, err.Error(), err)
	}

	if errs := validator.Validate(schema.AST, doc); len(errs) > 0 {
		return nil, graphqlErrorFromList(errs)
	}

	return doc, nil
}

// SelectOperation picks the single operation to execute out of doc, the
// same disambiguation a standalone GraphQL server performs: if the
// document holds exactly one operation it is used regardless of name; if
// it holds several, operationName must select one of them.
func SelectOperation(doc *ast.QueryDocument, operationName string) (*ast.OperationDefinition, error) {
	if len(doc.Operations) == 1 {
		return doc.Operations[0], nil
	}
	if operationName == "" {
		return nil, graphql.NewError(graphql.KindValidationError, "must provide an operation name when the query contains multiple operations", nil)
	}
	op := doc.Operations.ForName(operationName)
	if op == nil {
		return nil, graphql.NewError(graphql.KindValidationError, "unknown operation: "+operationName, nil)
	}
	return op, nil
}

func graphqlErrorFromGQLError(err *gqlerror.Error, kind graphql.Kind) *graphql.Error {
	var path []interface{}
	for _, p := range err.Path {
		path = append(path, p)
	}
	return &graphql.Error{Kind: kind, Message: err.Message, Path: path}
}

func graphqlErrorFromList(errs gqlerror.List) *graphql.Error {
	first := errs[0]
	msg := first.Message
	if len(errs) > 1 {
		msg += " (and " + strconv.Itoa(len(errs)-1) + " more validation errors)"
	}
	return graphqlErrorFromGQLError(&gqlerror.Error{Message: msg, Path: first.Path}, graphql.KindValidationError)
}
