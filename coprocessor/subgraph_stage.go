package coprocessor

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/outpostgraph/router/registry"
	"github.com/outpostgraph/router/reqcontext"
	"github.com/outpostgraph/router/stage"
)

// WrapSubgraphStage layers the configured subgraph-level coprocessor hooks
// around next, the same way WrapRouterStage does for the router-level
// pair, but operating on the structured registry.SubgraphRequest/Response
// types every per-subgraph stage.Service already speaks.
func WrapSubgraphStage(
	client *Client,
	next stage.Service[*registry.SubgraphRequest, *registry.SubgraphResponse],
) stage.Service[*registry.SubgraphRequest, *registry.SubgraphResponse] {
	wrapped := next
	if client.Config.SubgraphResponse.Enabled() {
		wrapped = stage.MapFuture(wrapped, client.subgraphResponseTransform())
	}
	if client.Config.SubgraphRequest.Enabled() {
		wrapped = stage.AsyncCheckpoint(client.subgraphRequestDecide(), wrapped)
	}
	return wrapped
}

func (c *Client) subgraphRequestDecide() func(context.Context, *registry.SubgraphRequest) (stage.ControlFlow[*registry.SubgraphRequest, *registry.SubgraphResponse], error) {
	fs := c.Config.SubgraphRequest
	return func(ctx context.Context, req *registry.SubgraphRequest) (stage.ControlFlow[*registry.SubgraphRequest, *registry.SubgraphResponse], error) {
		var zero stage.ControlFlow[*registry.SubgraphRequest, *registry.SubgraphResponse]

		continueControl := ContinueControl()
		env := &Envelope{Stage: StageSubgraphRequest, Control: &continueControl}
		if fs.Headers {
			headers, err := ExternalizeHeaders(http.Header(req.Headers))
			if err != nil {
				return zero, err
			}
			env.Headers = headers
		}
		if fs.Body {
			body, err := json.Marshal(req.Body)
			if err != nil {
				return zero, err
			}
			env.Body = body
		}
		if fs.Context {
			if rc, ok := req.Context.(reqcontext.RequestContext); ok {
				snapshot, err := json.Marshal(rc.Snapshot())
				if err != nil {
					return zero, err
				}
				env.Context = snapshot
			}
		}
		if fs.URI {
			env.URI = &req.URI
		}
		if fs.Method {
			env.Method = &req.Method
		}
		if fs.ServiceName {
			env.ServiceName = &req.ServiceName
		}

		leave := enterActive(ctx, req.Context)
		respEnv, err := c.send(ctx, env)
		leave()
		if err != nil {
			return zero, err
		}
		if err := validateEnvelope(respEnv, StageSubgraphRequest); err != nil {
			return zero, err
		}

		if respEnv.Control.IsBreak() {
			resp, err := synthesizeSubgraphBreak(respEnv, req)
			if err != nil {
				return zero, err
			}
			return stage.Break[*registry.SubgraphRequest, *registry.SubgraphResponse](resp), nil
		}

		return stage.Continue[*registry.SubgraphRequest, *registry.SubgraphResponse](applySubgraphRequestMutations(req, respEnv)), nil
	}
}

func (c *Client) subgraphResponseTransform() func(context.Context, *registry.SubgraphResponse, error) (*registry.SubgraphResponse, error) {
	fs := c.Config.SubgraphResponse
	return func(ctx context.Context, resp *registry.SubgraphResponse, callErr error) (*registry.SubgraphResponse, error) {
		if callErr != nil {
			return resp, callErr
		}

		env := &Envelope{Stage: StageSubgraphResponse}
		if fs.Headers {
			headers, err := ExternalizeHeaders(http.Header(resp.Headers))
			if err != nil {
				return resp, err
			}
			env.Headers = headers
		}
		if fs.Body {
			body, err := json.Marshal(resp.Body)
			if err != nil {
				return resp, err
			}
			env.Body = body
		}
		if fs.Context {
			if rc, ok := resp.Context.(reqcontext.RequestContext); ok {
				snapshot, err := json.Marshal(rc.Snapshot())
				if err != nil {
					return resp, err
				}
				env.Context = snapshot
			}
		}
		if fs.ServiceName {
			env.ServiceName = &resp.ServiceName
		}
		if fs.StatusCode {
			statusCode := resp.StatusCode
			env.StatusCode = &statusCode
		}

		leave := enterActive(ctx, resp.Context)
		respEnv, err := c.send(ctx, env)
		leave()
		if err != nil {
			return resp, err
		}
		if err := validateEnvelope(respEnv, StageSubgraphResponse); err != nil {
			return resp, err
		}

		return applySubgraphResponseMutations(resp, respEnv), nil
	}
}

// synthesizeSubgraphBreak mirrors synthesizeRouterBreak at the subgraph
// layer: a malformed Break body becomes a single EXERNAL_DESERIALIZATION_ERROR
// entry in the body the execution stage would otherwise have merged a
// well-formed subgraph reply into.
func synthesizeSubgraphBreak(env *Envelope, req *registry.SubgraphRequest) (*registry.SubgraphResponse, error) {
	status, err := env.Control.HTTPStatus()
	if err != nil {
		return nil, err
	}

	var body interface{}
	if len(env.Body) > 0 {
		var decoded map[string]interface{}
		if jsonErr := json.Unmarshal(env.Body, &decoded); jsonErr != nil {
			var synthesized interface{}
			_ = json.Unmarshal(deserializationErrorResponse(jsonErr), &synthesized)
			body = synthesized
		} else {
			body = decoded
		}
	}

	resp := &registry.SubgraphResponse{
		ServiceName: req.ServiceName,
		Body:        body,
		StatusCode:  status,
		Context:     req.Context,
	}
	if env.Headers != nil {
		resp.Headers = env.Headers
	}
	return resp, nil
}

func applySubgraphRequestMutations(req *registry.SubgraphRequest, env *Envelope) *registry.SubgraphRequest {
	mutated := *req
	if env.Headers != nil {
		mutated.Headers = env.Headers
	}
	if len(env.Body) > 0 {
		var body interface{}
		if err := json.Unmarshal(env.Body, &body); err == nil {
			mutated.Body = body
		}
	}
	if env.URI != nil {
		mutated.URI = *env.URI
	}
	if rc, ok := req.Context.(reqcontext.RequestContext); ok {
		applyContextMutation(rc, env.Context)
	}
	return &mutated
}

func applySubgraphResponseMutations(resp *registry.SubgraphResponse, env *Envelope) *registry.SubgraphResponse {
	mutated := *resp
	if env.Headers != nil {
		mutated.Headers = env.Headers
	}
	if len(env.Body) > 0 {
		var body interface{}
		if err := json.Unmarshal(env.Body, &body); err == nil {
			mutated.Body = body
		}
	}
	if env.StatusCode != nil {
		mutated.StatusCode = *env.StatusCode
	}
	if rc, ok := resp.Context.(reqcontext.RequestContext); ok {
		applyContextMutation(rc, env.Context)
	}
	return &mutated
}

// enterActive brackets an outbound coprocessor call with
// EnterActiveRequest/LeaveActiveRequest when ctxValue actually carries a
// RequestContext, and is a no-op otherwise; the subgraph message types
// carry Context as interface{} precisely so the registry package need not
// depend on reqcontext.
func enterActive(ctx context.Context, ctxValue interface{}) func() {
	rc, ok := ctxValue.(reqcontext.RequestContext)
	if !ok {
		return func() {}
	}
	rc.EnterActiveRequest(ctx)
	return func() { rc.LeaveActiveRequest(ctx) }
}
