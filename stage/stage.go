// Package stage provides the composable request/response abstraction used
// throughout the router: a Service with a readiness check and a blocking
// Call, plus the two combinators the coprocessor layer is built from
// (AsyncCheckpoint and MapFuture). It is the Go-idiomatic stand-in for
// tower::Service/tower::Layer: instead of returning a boxed future, Call
// blocks the calling goroutine and composition happens through plain
// closures, the same way http.Handler middleware composes.
package stage

import "context"

// Service is a request-processing stage. Implementations must be safe for
// concurrent use: Call may be invoked from many goroutines at once.
type Service[Req, Resp any] interface {
	// Ready reports whether the service can currently accept a Call. A
	// service that has no meaningful backpressure (see AlwaysReady)
	// should always return nil.
	Ready(ctx context.Context) error
	// Call processes a single request.
	Call(ctx context.Context, req Req) (Resp, error)
}

// Func adapts a plain function to a Service that is always ready.
type Func[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Ready always reports ready.
func (f Func[Req, Resp]) Ready(ctx context.Context) error { return nil }

// Call invokes the underlying function.
func (f Func[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) { return f(ctx, req) }

// ControlFlow is the result of an AsyncCheckpoint decision function: either
// continue with a (possibly rewritten) request, or break with a response
// the inner service is never called to produce.
type ControlFlow[Req, Resp any] struct {
	request  Req
	response Resp
	isBreak  bool
}

// Continue resumes the pipeline with the given (possibly mutated) request.
func Continue[Req, Resp any](req Req) ControlFlow[Req, Resp] {
	return ControlFlow[Req, Resp]{request: req}
}

// Break short-circuits the pipeline with a synthesized response; the inner
// service is never invoked.
func Break[Req, Resp any](resp Resp) ControlFlow[Req, Resp] {
	return ControlFlow[Req, Resp]{response: resp, isBreak: true}
}

// IsBreak reports whether this is a Break.
func (c ControlFlow[Req, Resp]) IsBreak() bool { return c.isBreak }

// Request returns the (possibly rewritten) request of a Continue value. It
// is the zero value for a Break.
func (c ControlFlow[Req, Resp]) Request() Req { return c.request }

// Response returns the synthesized response of a Break value. It is the
// zero value for a Continue.
func (c ControlFlow[Req, Resp]) Response() Resp { return c.response }

// asyncCheckpoint is an AsyncCheckpoint layer: it inspects the inbound
// request and either forwards it to next or breaks with a response of its
// own, never calling next in that case.
type asyncCheckpoint[Req, Resp any] struct {
	decide func(ctx context.Context, req Req) (ControlFlow[Req, Resp], error)
	next   Service[Req, Resp]
}

// AsyncCheckpoint wraps next with a decision function that runs before
// every Call. This is the shape the coprocessor's request-side layer uses.
func AsyncCheckpoint[Req, Resp any](
	decide func(ctx context.Context, req Req) (ControlFlow[Req, Resp], error),
	next Service[Req, Resp],
) Service[Req, Resp] {
	return &asyncCheckpoint[Req, Resp]{decide: decide, next: next}
}

func (a *asyncCheckpoint[Req, Resp]) Ready(ctx context.Context) error {
	return a.next.Ready(ctx)
}

func (a *asyncCheckpoint[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	cf, err := a.decide(ctx, req)
	if err != nil {
		var zero Resp
		return zero, err
	}
	if cf.IsBreak() {
		return cf.Response(), nil
	}
	return a.next.Call(ctx, cf.Request())
}

// mapFuture is a MapFuture layer: it awaits next's result, successful or
// not, then transforms it.
type mapFuture[Req, Resp any] struct {
	next      Service[Req, Resp]
	transform func(ctx context.Context, resp Resp, err error) (Resp, error)
}

// MapFuture wraps next's result (response or error) with transform. This is
// the shape the coprocessor's response-side layer uses.
func MapFuture[Req, Resp any](
	next Service[Req, Resp],
	transform func(ctx context.Context, resp Resp, err error) (Resp, error),
) Service[Req, Resp] {
	return &mapFuture[Req, Resp]{next: next, transform: transform}
}

func (m *mapFuture[Req, Resp]) Ready(ctx context.Context) error {
	return m.next.Ready(ctx)
}

func (m *mapFuture[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	resp, err := m.next.Call(ctx, req)
	return m.transform(ctx, resp, err)
}

// AlwaysReady wraps a service whose Ready always reports nil regardless of
// the wrapped service's own readiness. The execution stage uses this: a
// federated fan-out may hold hundreds of subgraph services, and blocking
// intake on all of their readiness would be pathological at fleet scale.
// Backpressure, if reintroduced, must be selective rather than global.
type alwaysReady[Req, Resp any] struct {
	next Service[Req, Resp]
}

// AlwaysReady reports ready unconditionally while still delegating Call to
// next.
func AlwaysReady[Req, Resp any](next Service[Req, Resp]) Service[Req, Resp] {
	return &alwaysReady[Req, Resp]{next: next}
}

func (a *alwaysReady[Req, Resp]) Ready(ctx context.Context) error { return nil }

func (a *alwaysReady[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return a.next.Call(ctx, req)
}
