package router

import (
	"context"
	"fmt"
	"net/http"

	"github.com/outpostgraph/router/coprocessor"
	"github.com/outpostgraph/router/registry"
	"github.com/outpostgraph/router/stage"
)

// subgraphDocument recovers the GraphQL document string from a
// SubgraphRequest's Body, which is either the plain string a direct
// dispatch puts there, or the `{"query": "..."}` shape a coprocessor's
// decoded JSON reply produces after a body rewrite (json.Unmarshal into an
// interface{} always yields map[string]interface{} for a JSON object, never
// back into the original string it may have started as).
func subgraphDocument(body interface{}) (string, bool) {
	switch v := body.(type) {
	case string:
		return v, true
	case map[string]interface{}:
		document, ok := v["query"].(string)
		return document, ok
	default:
		return "", false
	}
}

// newSubgraphService adapts the router's GraphQL client into the stage.Service
// contract for a single subgraph, so it can be addressed through a
// registry.ServiceRegistry instead of a bare service URL. The document to
// send is carried as the SubgraphRequest's Body; the response is decoded the
// same way GraphQLClient.Request decodes directly into a caller-provided
// value, just boxed into an interface{} for the generic Call signature.
func newSubgraphService(client *GraphQLClient, serviceURL string) stage.Service[*registry.SubgraphRequest, *registry.SubgraphResponse] {
	return stage.Func[*registry.SubgraphRequest, *registry.SubgraphResponse](
		func(ctx context.Context, req *registry.SubgraphRequest) (*registry.SubgraphResponse, error) {
			document, ok := subgraphDocument(req.Body)
			if !ok {
				return nil, fmt.Errorf("subgraph request: body carries no GraphQL document: %T", req.Body)
			}

			gqlReq := NewRequest(document).WithHeaders(http.Header(req.Headers))

			var data interface{}
			if err := client.Request(ctx, serviceURL, gqlReq, &data); err != nil {
				return nil, err
			}

			return &registry.SubgraphResponse{
				ServiceName: req.ServiceName,
				Body:        data,
				Context:     req.Context,
			}, nil
		},
	)
}

// buildSubgraphRegistry wraps every known service behind newSubgraphService,
// keyed by its URL, the same key query_execution.go's direct dispatch path
// uses to address a subgraph. When coprocessorClient is non-nil, each
// subgraph's stage additionally runs through the configured
// subgraph-level coprocessor hooks.
func buildSubgraphRegistry(client *GraphQLClient, coprocessorClient *coprocessor.Client, services ...*Service) registry.ServiceRegistry {
	byURL := make(map[string]stage.Service[*registry.SubgraphRequest, *registry.SubgraphResponse], len(services))
	for _, s := range services {
		svc := newSubgraphService(client, s.ServiceURL)
		if coprocessorClient != nil {
			svc = coprocessor.WrapSubgraphStage(coprocessorClient, svc)
		}
		byURL[s.ServiceURL] = svc
	}
	return registry.New(byURL)
}
