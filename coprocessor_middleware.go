package router

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/felixge/httpsnoop"

	"github.com/outpostgraph/router/coprocessor"
	"github.com/outpostgraph/router/reqcontext"
	"github.com/outpostgraph/router/stage"
)

// coprocessorMiddleware adapts an http.Handler into the router-level
// coprocessor pipeline: the inbound request is read fully into memory and
// projected into a coprocessor.RouterRequest, run through the configured
// Wrap* layers, and (unless a layer broke the pipeline) handed to next with
// whatever mutations the coprocessor applied; next's response is read back
// out the same way and run through the response-side layer before being
// written to the real http.ResponseWriter.
func coprocessorMiddleware(client *coprocessor.Client, next http.Handler) http.Handler {
	inner := stage.Func[*coprocessor.RouterRequest, *coprocessor.RouterResponse](
		func(ctx context.Context, req *coprocessor.RouterRequest) (*coprocessor.RouterResponse, error) {
			ctx = reqcontext.WithRequestContext(ctx, req.Context)
			httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URI, bytes.NewReader(req.Body))
			if err != nil {
				return nil, err
			}
			httpReq.Header = req.Headers

			rec := httptest.NewRecorder()
			m := httpsnoop.CaptureMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r)
			}), rec, httpReq)

			AddFields(ctx, EventFields{
				"coprocessor.wrapped_handler.duration": m.Duration.String(),
				"coprocessor.wrapped_handler.size":     m.Written,
			})

			return &coprocessor.RouterResponse{
				Headers:    rec.Header(),
				Body:       rec.Body.Bytes(),
				StatusCode: rec.Code,
				Context:    req.Context,
			}, nil
		},
	)

	svc := coprocessor.WrapRouterStage(client, inner)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "error reading request body", http.StatusBadRequest)
			return
		}
		r.Body.Close()

		rc, ok := reqcontext.FromContext(r.Context())
		if !ok {
			rc = reqcontext.New()
		}

		req := &coprocessor.RouterRequest{
			Headers: r.Header.Clone(),
			Body:    body,
			Method:  r.Method,
			Path:    r.URL.Path,
			URI:     r.URL.String(),
			Context: rc,
		}

		resp, err := svc.Call(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		for name, values := range resp.Headers {
			for _, v := range values {
				w.Header().Add(name, v)
			}
		}
		if resp.StatusCode == 0 {
			resp.StatusCode = http.StatusOK
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(resp.Body)
	})
}

// requestContextMiddleware ensures every request carries a reqcontext.RequestContext,
// attaching a fresh one when nothing upstream (e.g. a test harness) has
// already done so. This runs unconditionally, independent of whether a
// coprocessor is configured, since the execution stage and subgraph
// dispatch both look one up via reqcontext.FromContext.
func requestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := reqcontext.FromContext(r.Context()); !ok {
			r = r.WithContext(reqcontext.WithRequestContext(r.Context(), reqcontext.New()))
		}
		next.ServeHTTP(w, r)
	})
}
