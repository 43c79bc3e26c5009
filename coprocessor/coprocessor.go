package coprocessor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// externalSpanName is the span every coprocessor call is wrapped in,
// mirroring how the execution stage names its own span after the
// subsystem rather than the call site.
const externalSpanName = "external_plugin"

// Client is the shared collaborator every Wrap* layer calls through: an
// HTTPS-capable client and the configuration describing where to send
// envelopes and which fields each pipeline point externalizes. One Client
// is built per router instance and reused across every wrapped stage,
// matching the "cheaply cloneable, construction-time cost" guidance for
// middleware layering.
type Client struct {
	HTTPClient *http.Client
	Config     Config
	Tracer     trace.Tracer

	// Observer, if set, is invoked after every coprocessor call completes
	// (success or failure) with the stage and call latency. It lets the
	// caller wire in metrics and structured logging without this package
	// depending on either directly.
	Observer func(ctx context.Context, stage Stage, duration time.Duration, err error)
}

// NewClient builds a Client with the given HTTP client (nil selects
// http.DefaultClient) and configuration. A nil tracer selects the global
// tracer provider. Config.Validate should already have been called by the
// caller, the way config.go validates its own duration fields during Load.
func NewClient(httpClient *http.Client, cfg Config, tracer trace.Tracer) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("coprocessor")
	}
	return &Client{HTTPClient: httpClient, Config: cfg, Tracer: tracer}
}

// send posts an envelope to the configured coprocessor URL and decodes the
// reply. It does not interpret version/stage mismatches; callers validate
// the result via validateEnvelope.
func (c *Client) send(ctx context.Context, env *Envelope) (respEnv *Envelope, err error) {
	ctx, span := c.Tracer.Start(ctx, externalSpanName, trace.WithAttributes(
		attribute.String("coprocessor.stage", string(env.Stage)),
		attribute.String("coprocessor.url", c.Config.URL),
	))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if c.Observer != nil {
			c.Observer(ctx, env.Stage, time.Since(start), err)
		}
	}()

	env.Version = EnvelopeVersion
	if env.ID == "" {
		env.ID = traceID(ctx)
	}

	body, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		err = fmt.Errorf("coprocessor: encoding outbound envelope: %w", marshalErr)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.Config.TimeoutDuration)
	defer cancel()

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.Config.URL, bytes.NewReader(body))
	if reqErr != nil {
		err = fmt.Errorf("coprocessor: building request: %w", reqErr)
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")

	httpResp, doErr := c.HTTPClient.Do(httpReq)
	if doErr != nil {
		err = fmt.Errorf("coprocessor: calling %s: %w", c.Config.URL, doErr)
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil {
		err = fmt.Errorf("coprocessor: reading response: %w", readErr)
		return nil, err
	}

	var env2 Envelope
	if unmarshalErr := json.Unmarshal(respBody, &env2); unmarshalErr != nil {
		err = fmt.Errorf("coprocessor: decoding response envelope: %w", unmarshalErr)
		return nil, err
	}

	return &env2, nil
}

// ValidationError reports a coprocessor reply that violated the wire
// protocol's invariants: a version/stage mismatch, a *Request reply with no
// control decision, or a body that failed the stage's JSON encoding rule.
// Callers that want to distinguish protocol violations from transport
// failures (a dropped connection, a timeout) can type-assert for this.
type ValidationError struct {
	Stage  Stage
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("coprocessor: %s: %s", e.Stage, e.Reason)
}

// validateEnvelope enforces the receipt invariants: version and stage must
// match what was sent, and a *Request stage must carry a control decision.
func validateEnvelope(env *Envelope, stage Stage) error {
	if env.Version != EnvelopeVersion {
		return &ValidationError{Stage: stage, Reason: fmt.Sprintf("envelope version mismatch: got %d, want %d", env.Version, EnvelopeVersion)}
	}
	if env.Stage != stage {
		return &ValidationError{Stage: stage, Reason: fmt.Sprintf("envelope stage mismatch: got %q, want %q", env.Stage, stage)}
	}
	if stage.isRequestStage() && env.Control == nil {
		return &ValidationError{Stage: stage, Reason: "reply missing control"}
	}
	return nil
}

// traceID returns the current span's trace id, best-effort. When no span
// with a trace id is active it returns a fresh random UUID instead.
func traceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

// deserializationErrorResponse builds the single-error GraphQL response body
// used whenever a Break's body cannot be decoded.
func deserializationErrorResponse(cause error) []byte {
	payload := map[string]interface{}{
		"errors": []map[string]interface{}{
			{
				"message": fmt.Sprintf("coprocessor returned a malformed response body: %v", cause),
				"extensions": map[string]interface{}{
					"code": "EXERNAL_DESERIALIZATION_ERROR",
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		// payload is a fixed, always-marshalable literal; this cannot fail.
		panic(err)
	}
	return body
}
