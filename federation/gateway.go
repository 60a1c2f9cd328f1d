package federation

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/async-graphql/graphgate/graphql"
	"github.com/async-graphql/graphgate/logger"
)

// Gateway is the HTTP entrypoint tying composition, validation, planning,
// and execution into a single request cycle (spec.md §6). Grounded on
// thunder's federation/server.go Server/ServeHTTP, generalized from
// thunder's single in-process schema to the atomically swapped
// CompiledSchema held by a SchemaRegistry.
type Gateway struct {
	Registry    *SchemaRegistry
	Log         logger.Logger
	Upgrader    websocket.Upgrader
	MaxInFlight int
}

// NewGateway builds a Gateway serving requests against registry's currently
// active CompiledSchema.
func NewGateway(registry *SchemaRegistry, log logger.Logger) *Gateway {
	if log == nil {
		log = logger.NewNop()
	}
	return &Gateway{
		Registry:    registry,
		Log:         log,
		MaxInFlight: 10,
	}
}

type graphQLRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

type graphQLResponse struct {
	Data   map[string]interface{} `json:"data,omitempty"`
	Errors []gqlErrorJSON         `json:"errors,omitempty"`
}

type gqlErrorJSON struct {
	Message string        `json:"message"`
	Path    []interface{} `json:"path,omitempty"`
}

// ServeHTTP handles a single query/mutation request over graphql-over-http,
// the spec's query-path contract (spec.md §6).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeErrors(w, graphql.NewError(graphql.KindParseError, "malformed request body", err))
		return
	}

	resp := g.Run(r.Context(), req.Query, req.OperationName, req.Variables)
	g.writeResponse(w, resp)
}

// Run executes one query/mutation request end to end: validate, select the
// operation, plan, execute, project.
func (g *Gateway) Run(ctx context.Context, query, operationName string, variables map[string]interface{}) *Result {
	compiled := g.Registry.Current()
	if compiled == nil {
		return &Result{Errors: []error{graphql.NewError(graphql.KindPlanError, "no composed schema available", nil)}}
	}

	doc, err := Validate(compiled.Schema, query, operationName)
	if err != nil {
		return &Result{Errors: []error{err}}
	}
	op, err := SelectOperation(doc, operationName)
	if err != nil {
		return &Result{Errors: []error{graphql.NewError(graphql.KindValidationError, err.Error(), err)}}
	}

	plan, err := compiled.Planner.Plan(op, doc.Fragments)
	if err != nil {
		return &Result{Errors: []error{graphql.NewError(graphql.KindPlanError, err.Error(), err)}}
	}

	ss := graphql.FromAST(op.SelectionSet, doc.Fragments)
	executor := NewExecutor(compiled.Schema, compiled.Client, g.MaxInFlight)
	return executor.Execute(ctx, plan, op.VariableDefinitions, variables, ss)
}

func (g *Gateway) writeResponse(w http.ResponseWriter, res *Result) {
	w.Header().Set("Content-Type", "application/json")
	body := graphQLResponse{Data: res.Data}
	for _, err := range res.Errors {
		body.Errors = append(body.Errors, toErrorJSON(err))
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.Log.Error("encoding response failed", "error", err)
	}
}

func (g *Gateway) writeErrors(w http.ResponseWriter, errs ...error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	body := graphQLResponse{}
	for _, err := range errs {
		body.Errors = append(body.Errors, toErrorJSON(err))
	}
	_ = json.NewEncoder(w).Encode(body)
}

func toErrorJSON(err error) gqlErrorJSON {
	if typed, ok := err.(*graphql.Error); ok {
		return gqlErrorJSON{Message: typed.SanitizedError(), Path: typed.Path}
	}
	if sanitized, ok := err.(graphql.SanitizedError); ok {
		return gqlErrorJSON{Message: sanitized.SanitizedError()}
	}
	return gqlErrorJSON{Message: "Internal server error"}
}
