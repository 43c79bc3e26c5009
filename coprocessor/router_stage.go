package coprocessor

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/outpostgraph/router/reqcontext"
	"github.com/outpostgraph/router/stage"
)

// RouterRequest is the opaque-bytes message the router-level coprocessor
// hooks see: the inbound HTTP request reduced to the fields the field-set
// config allows externalizing, plus the shared per-request RequestContext
// every hook brackets its outbound call with.
type RouterRequest struct {
	Headers http.Header
	Body    []byte
	Method  string
	Path    string
	URI     string
	SDL     string
	Context reqcontext.RequestContext
}

// RouterResponse is the router-level counterpart, produced by the rest of
// the pipeline and optionally externalized again before it reaches the
// client.
type RouterResponse struct {
	Headers    http.Header
	Body       []byte
	StatusCode int
	Context    reqcontext.RequestContext
}

// WrapRouterStage layers the configured router-level coprocessor hooks
// around next. The response layer is built first so it becomes part of
// what the request layer's Continue path forwards into; a RouterRequest
// Break therefore never reaches next, or the response layer, at all.
func WrapRouterStage(client *Client, next stage.Service[*RouterRequest, *RouterResponse]) stage.Service[*RouterRequest, *RouterResponse] {
	wrapped := next
	if client.Config.RouterResponse.Enabled() {
		wrapped = stage.MapFuture(wrapped, client.routerResponseTransform())
	}
	if client.Config.RouterRequest.Enabled() {
		wrapped = stage.AsyncCheckpoint(client.routerRequestDecide(), wrapped)
	}
	return wrapped
}

func (c *Client) routerRequestDecide() func(context.Context, *RouterRequest) (stage.ControlFlow[*RouterRequest, *RouterResponse], error) {
	fs := c.Config.RouterRequest
	return func(ctx context.Context, req *RouterRequest) (stage.ControlFlow[*RouterRequest, *RouterResponse], error) {
		var zero stage.ControlFlow[*RouterRequest, *RouterResponse]

		continueControl := ContinueControl()
		env := &Envelope{Stage: StageRouterRequest, Control: &continueControl}
		if fs.Headers {
			headers, err := ExternalizeHeaders(req.Headers)
			if err != nil {
				return zero, err
			}
			env.Headers = headers
		}
		if fs.Body {
			// Router-layer bodies are opaque bytes; a request-side parse
			// failure is tolerated by leaving the body out of the envelope
			// rather than failing the stage.
			if json.Valid(req.Body) {
				env.Body = req.Body
			}
		}
		if fs.Context {
			snapshot, err := json.Marshal(req.Context.Snapshot())
			if err != nil {
				return zero, err
			}
			env.Context = snapshot
		}
		if fs.SDL {
			env.SDL = &req.SDL
		}
		if fs.Path {
			env.Path = &req.Path
		}
		if fs.Method {
			env.Method = &req.Method
		}
		if fs.URI {
			env.URI = &req.URI
		}

		req.Context.EnterActiveRequest(ctx)
		respEnv, err := c.send(ctx, env)
		req.Context.LeaveActiveRequest(ctx)
		if err != nil {
			return zero, err
		}
		if err := validateEnvelope(respEnv, StageRouterRequest); err != nil {
			return zero, err
		}

		if respEnv.Control.IsBreak() {
			resp, err := synthesizeRouterBreak(respEnv, req.Context)
			if err != nil {
				return zero, err
			}
			return stage.Break[*RouterRequest, *RouterResponse](resp), nil
		}

		return stage.Continue[*RouterRequest, *RouterResponse](applyRouterRequestMutations(req, respEnv)), nil
	}
}

func (c *Client) routerResponseTransform() func(context.Context, *RouterResponse, error) (*RouterResponse, error) {
	fs := c.Config.RouterResponse
	return func(ctx context.Context, resp *RouterResponse, callErr error) (*RouterResponse, error) {
		if callErr != nil {
			return resp, callErr
		}

		env := &Envelope{Stage: StageRouterResponse}
		if fs.Headers {
			headers, err := ExternalizeHeaders(resp.Headers)
			if err != nil {
				return resp, err
			}
			env.Headers = headers
		}
		if fs.Body {
			// Unlike the request side, a response-side parse failure is a
			// hard error: malformed bytes must never silently survive.
			if !json.Valid(resp.Body) {
				return resp, &ValidationError{Stage: StageRouterResponse, Reason: "response body is not valid JSON"}
			}
			env.Body = resp.Body
		}
		if fs.Context {
			snapshot, err := json.Marshal(resp.Context.Snapshot())
			if err != nil {
				return resp, err
			}
			env.Context = snapshot
		}
		if fs.StatusCode {
			statusCode := resp.StatusCode
			env.StatusCode = &statusCode
		}

		resp.Context.EnterActiveRequest(ctx)
		respEnv, err := c.send(ctx, env)
		resp.Context.LeaveActiveRequest(ctx)
		if err != nil {
			return resp, err
		}
		if err := validateEnvelope(respEnv, StageRouterResponse); err != nil {
			return resp, err
		}

		return applyRouterResponseMutations(resp, respEnv), nil
	}
}

// synthesizeRouterBreak turns a Break control value into the RouterResponse
// that short-circuits the pipeline, falling back to a single
// EXERNAL_DESERIALIZATION_ERROR GraphQL error when the coprocessor's body is
// present but does not decode as a GraphQL response object.
func synthesizeRouterBreak(env *Envelope, rc reqcontext.RequestContext) (*RouterResponse, error) {
	status, err := env.Control.HTTPStatus()
	if err != nil {
		return nil, err
	}

	body := []byte(env.Body)
	if len(body) > 0 {
		var probe map[string]json.RawMessage
		if jsonErr := json.Unmarshal(body, &probe); jsonErr != nil {
			body = deserializationErrorResponse(jsonErr)
		}
	}

	resp := &RouterResponse{StatusCode: status, Body: body, Context: rc}
	if env.Headers != nil {
		resp.Headers = InternalizeHeaders(env.Headers)
	}
	return resp, nil
}

// applyRouterRequestMutations folds a Continue reply's fields back onto a
// copy of req. Fields the coprocessor did not mention are left untouched.
func applyRouterRequestMutations(req *RouterRequest, env *Envelope) *RouterRequest {
	mutated := *req
	if env.Headers != nil {
		mutated.Headers = InternalizeHeaders(env.Headers)
	}
	if len(env.Body) > 0 {
		mutated.Body = []byte(env.Body)
	}
	applyContextMutation(req.Context, env.Context)
	return &mutated
}

func applyRouterResponseMutations(resp *RouterResponse, env *Envelope) *RouterResponse {
	mutated := *resp
	if env.Headers != nil {
		mutated.Headers = InternalizeHeaders(env.Headers)
	}
	if len(env.Body) > 0 {
		mutated.Body = []byte(env.Body)
	}
	if env.StatusCode != nil {
		mutated.StatusCode = *env.StatusCode
	}
	applyContextMutation(resp.Context, env.Context)
	return &mutated
}

// applyContextMutation replaces rc's value bag with the coprocessor's
// returned context snapshot, if one was sent back. A malformed snapshot is
// silently ignored; the context is best-effort state, not the pipeline's
// control signal.
func applyContextMutation(rc reqcontext.RequestContext, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var snapshot map[string]interface{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return
	}
	rc.ReplaceFrom(snapshot)
}
