package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/samsarahq/go/oops"

	"github.com/async-graphql/graphgate/graphql"
)

// SubgraphRequest is the {query, variables, operationName} body the
// gateway sends to a subgraph, the standard GraphQL-over-HTTP contract
// (spec.md §6 "outbound contract").
type SubgraphRequest struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
}

// SubgraphResponse is the standard {data, errors} GraphQL response shape.
type SubgraphResponse struct {
	Data   map[string]interface{} `json:"data"`
	Errors []SubgraphError         `json:"errors,omitempty"`
}

// SubgraphError is one entry of a subgraph's partial-error list.
type SubgraphError struct {
	Message string        `json:"message"`
	Path    []interface{} `json:"path,omitempty"`
}

// SubgraphClient executes a query/mutation against a named subgraph over
// HTTP, the transport half of the Executor's Fetch node (spec.md §4.E).
// Grounded on thunder's http.go httpPostBody/httpResponse JSON-over-HTTP
// pattern, generalized from a single upstream to a URL-per-service map and
// from thunder's handler side to the gateway's client side.
type SubgraphClient struct {
	HTTPClient *http.Client
	Endpoints  map[string]string
}

// NewSubgraphClient builds a client dispatching to endpoints (service name
// -> full query URL, posted to as is), with a sane request timeout if no
// client is given.
func NewSubgraphClient(client *http.Client, endpoints map[string]string) *SubgraphClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SubgraphClient{HTTPClient: client, Endpoints: endpoints}
}

// Execute sends req to service and returns its parsed response, or a typed
// graphql.Error (UpstreamNetworkError/UpstreamTimeout) if the subgraph
// could not be reached or returned malformed JSON.
func (c *SubgraphClient) Execute(ctx context.Context, service string, req SubgraphRequest) (*SubgraphResponse, error) {
	endpoint, ok := c.Endpoints[service]
	if !ok {
		return nil, graphql.NewError(graphql.KindUpstreamNetworkError, "unknown service "+service, nil)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, oops.Wrapf(err, "marshaling request to %s", service)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, oops.Wrapf(err, "building request to %s", service)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, graphql.NewError(graphql.KindUpstreamTimeout, "request to "+service+" timed out", err)
		}
		return nil, graphql.NewError(graphql.KindUpstreamNetworkError, "request to "+service+" failed", err)
	}
	defer resp.Body.Close()

	var parsed SubgraphResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, graphql.NewError(graphql.KindUpstreamNetworkError, "decoding response from "+service, err)
	}
	if resp.StatusCode >= 400 && len(parsed.Errors) == 0 {
		return nil, graphql.NewError(graphql.KindUpstreamNetworkError, service+" returned HTTP "+resp.Status, nil)
	}

	return &parsed, nil
}
