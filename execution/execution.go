// Package execution provides the request-processing stage that turns a
// planned query into a response by delegating to the plan's own execute
// method against a service registry and schema, wrapped in a tracing span
// and unconditional readiness the way the federated GraphQL request handler
// in executable_schema.go wraps plan dispatch.
package execution

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/outpostgraph/router/registry"
	"github.com/outpostgraph/router/reqcontext"
	"github.com/outpostgraph/router/stage"
)

// QueryPlan is the external collaborator this package consumes but does not
// define: something capable of driving a planned query to completion against
// a set of subgraph services. The router's own planner (plan.go,
// query_execution.go, merge.go) is adapted to satisfy this interface; tests
// in this package use simpler fakes.
type QueryPlan interface {
	Execute(ctx context.Context, reqCtx reqcontext.RequestContext, services registry.ServiceRegistry, schema *ast.Schema) (interface{}, error)
}

// PlannedRequest is the input to the execution stage: a plan ready to run,
// the schema it was planned against, and the context flowing with the
// request.
type PlannedRequest struct {
	Plan    QueryPlan
	Schema  *ast.Schema
	Context reqcontext.RequestContext
}

// RouterResponse is the execution stage's output. Context is the same
// RequestContext the PlannedRequest arrived with; any mutation a subgraph
// call made to it during execution is already visible through its shared
// state, so this stage never merges contexts of its own accord.
type RouterResponse struct {
	Body    interface{}
	Context reqcontext.RequestContext
}

type executionStage struct {
	registry registry.ServiceRegistry
	tracer   trace.Tracer
}

// NewStage builds the execution stage described in the federated execution
// design: it consumes a PlannedRequest, drives plan execution against
// services, and produces a RouterResponse. Readiness is unconditional
// (stage.AlwaysReady) because a federated fan-out may hold services for
// hundreds of subgraphs and blocking intake on their collective readiness
// would be pathological at fleet scale; selective backpressure, if ever
// needed, belongs to individual subgraph services, not this stage.
func NewStage(services registry.ServiceRegistry, tracer trace.Tracer) stage.Service[*PlannedRequest, *RouterResponse] {
	inner := &executionStage{registry: services, tracer: tracer}
	return stage.AlwaysReady[*PlannedRequest, *RouterResponse](inner)
}

func (s *executionStage) Ready(ctx context.Context) error { return nil }

func (s *executionStage) Call(ctx context.Context, req *PlannedRequest) (*RouterResponse, error) {
	ctx, span := s.tracer.Start(ctx, "execution")
	defer span.End()

	body, err := req.Plan.Execute(ctx, req.Context, s.registry, req.Schema)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return &RouterResponse{Body: body, Context: req.Context}, nil
}
