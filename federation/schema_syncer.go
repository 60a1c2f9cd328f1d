package federation

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/samsarahq/go/oops"

	"github.com/async-graphql/graphgate/graphql"
)

// ServiceRecord is one subgraph's address and the paths it exposes: its
// query/mutation endpoint, its subscription upgrade endpoint, and the
// endpoint the gateway fetches its SDL from (spec.md §6 "Service list
// input"). The gateway never discovers subgraphs on its own; a ServiceList
// is its only input for which ones exist.
type ServiceRecord struct {
	Name              string
	Addr              string
	QueryPath         string
	SubscribePath     string
	IntrospectionPath string
}

// ServiceList is the gateway's service-discovery input, supplied by the
// caller (spec.md §6).
type ServiceList []ServiceRecord

// CompiledSchema bundles everything derived from one successful
// composition: the federation-aware Schema, a Planner built against it, and
// the SubgraphClient addressed at each service's query endpoint. Replacing
// one CompiledSchema with another is the entire unit of schema hot-reload
// (spec.md §5 "composed Schema is replaced by swapping an immutable
// reference").
type CompiledSchema struct {
	Schema  *graphql.Schema
	Planner *Planner
	Client  *SubgraphClient
	// SubscribeEndpoints maps service name to its graphql-transport-ws
	// subscription URL, addressed separately from Client's query endpoints.
	SubscribeEndpoints map[string]string
}

// SDLFetcher retrieves one subgraph's current SDL. HTTPSDLFetcher below
// expects the subgraph to serve its own SDL as plain text at
// IntrospectionPath; a syncer that instead wants to introspect a subgraph
// exposing only the standard GraphQL introspection query can satisfy this
// same interface by running that query and rendering the result back to
// SDL before returning it.
type SDLFetcher interface {
	FetchSDL(ctx context.Context, svc ServiceRecord) (string, error)
}

// HTTPSDLFetcher fetches a subgraph's SDL with a plain GET against its
// IntrospectionPath.
type HTTPSDLFetcher struct {
	HTTPClient *http.Client
}

func (f *HTTPSDLFetcher) FetchSDL(ctx context.Context, svc ServiceRecord) (string, error) {
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.Addr+svc.IntrospectionPath, nil)
	if err != nil {
		return "", oops.Wrapf(err, "building SDL request to %s", svc.Name)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", oops.Wrapf(err, "fetching SDL from %s", svc.Name)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", oops.Wrapf(err, "reading SDL from %s", svc.Name)
	}
	return string(body), nil
}

// SchemaSyncer composes a fresh CompiledSchema from the current
// ServiceList, the unit of work a caller re-runs whenever it wants to pick
// up subgraph changes. Grounded on thunder's federation/schema_syncer.go
// IntrospectionSchemaSyncer.FetchPlannerAndSchema ("compute a new
// Planner+Schema pair, hand it back to the caller to swap in"), generalized
// from thunder's introspection-merge Composer to this spec's SDL+directive
// Composer.
type SchemaSyncer struct {
	Services ServiceList
	Fetcher  SDLFetcher
}

// NewSchemaSyncer builds a syncer for services, defaulting to HTTPSDLFetcher
// when fetcher is nil.
func NewSchemaSyncer(services ServiceList, fetcher SDLFetcher) *SchemaSyncer {
	if fetcher == nil {
		fetcher = &HTTPSDLFetcher{}
	}
	return &SchemaSyncer{Services: services, Fetcher: fetcher}
}

// Compose fetches every subgraph's current SDL and runs the Composer,
// returning a ready-to-swap CompiledSchema.
func (s *SchemaSyncer) Compose(ctx context.Context) (*CompiledSchema, error) {
	subgraphs := make([]Subgraph, len(s.Services))
	endpoints := make(map[string]string, len(s.Services))
	subscribeEndpoints := make(map[string]string, len(s.Services))
	for i, svc := range s.Services {
		sdl, err := s.Fetcher.FetchSDL(ctx, svc)
		if err != nil {
			return nil, oops.Wrapf(err, "fetching SDL for %s", svc.Name)
		}
		subgraphs[i] = Subgraph{Name: svc.Name, SDL: sdl}
		endpoints[svc.Name] = svc.Addr + svc.QueryPath
		subscribeEndpoints[svc.Name] = toWebsocketURL(svc.Addr) + svc.SubscribePath
	}

	schema, err := Compose(subgraphs)
	if err != nil {
		return nil, err
	}

	return &CompiledSchema{
		Schema:             schema,
		Planner:            NewPlanner(schema),
		Client:             NewSubgraphClient(nil, endpoints),
		SubscribeEndpoints: subscribeEndpoints,
	}, nil
}

// toWebsocketURL rewrites an http(s):// service address to its ws(s)://
// equivalent, the scheme graphql-transport-ws connections dial over.
func toWebsocketURL(addr string) string {
	switch {
	case strings.HasPrefix(addr, "https://"):
		return "wss://" + strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		return "ws://" + strings.TrimPrefix(addr, "http://")
	default:
		return addr
	}
}

// SchemaRegistry holds the gateway's currently active CompiledSchema behind
// an atomic pointer, so request handlers read it lock-free while a
// background resync swaps in a new one once composed (spec.md §5).
type SchemaRegistry struct {
	current atomic.Pointer[CompiledSchema]
}

// NewSchemaRegistry builds a registry already holding initial.
func NewSchemaRegistry(initial *CompiledSchema) *SchemaRegistry {
	r := &SchemaRegistry{}
	r.current.Store(initial)
	return r
}

// Current returns the active CompiledSchema.
func (r *SchemaRegistry) Current() *CompiledSchema {
	return r.current.Load()
}

// Swap atomically replaces the active CompiledSchema with next.
func (r *SchemaRegistry) Swap(next *CompiledSchema) {
	r.current.Store(next)
}
