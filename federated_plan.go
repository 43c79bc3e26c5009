package router

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/outpostgraph/router/registry"
	"github.com/outpostgraph/router/reqcontext"
)

// planResult is what federatedQueryPlan.Execute hands back through the
// execution stage's opaque interface{} return: a formatted response body
// plus the non-fatal errors accumulated along the way.
type planResult struct {
	Data   interface{}
	Errors gqlerror.List
}

// federatedQueryPlan adapts the existing planner (plan.go, query_execution.go,
// merge.go) to the execution.QueryPlan interface, so
// ExecuteQuery can drive it through execution.NewStage instead of calling
// qe.Execute/mergeExecutionResults/bubbleUpNullValuesInPlace/
// formatResponseData directly. It is the one concrete QueryPlan
// implementation this router ships.
type federatedQueryPlan struct {
	plan                *QueryPlan
	operationName       string
	client              *GraphQLClient
	boundaryFields      BoundaryFieldsMap
	maxRequestsPerQuery int32
	selectionSet        ast.SelectionSet

	// extraResults are prepended to the subgraph fan-out results before
	// merging, used to splice in locally-resolved introspection fields.
	extraResults []executionResult
}

// Execute satisfies execution.QueryPlan. A non-nil error is a fatal
// execution failure (subgraph dispatch, merge, or a null-bubbling failure);
// a null that bubbles up to the root is not an error but yields a
// *planResult with nil data. A successful call always returns a
// *planResult, possibly carrying non-fatal errors of its own.
func (p *federatedQueryPlan) Execute(ctx context.Context, reqCtx reqcontext.RequestContext, services registry.ServiceRegistry, schema *ast.Schema) (interface{}, error) {
	qe := newQueryExecution(ctx, p.operationName, p.client, schema, p.boundaryFields, p.maxRequestsPerQuery).
		WithSubgraphRegistry(services)

	results, executeErrs := qe.Execute(p.plan)
	if len(executeErrs) > 0 {
		return nil, executeErrs
	}

	var errs gqlerror.List
	for _, result := range results {
		errs = append(errs, result.Errors...)
	}

	if len(p.extraResults) > 0 {
		results = append(append([]executionResult{}, p.extraResults...), results...)
	}

	mergedResult, err := mergeExecutionResults(results)
	if err != nil {
		return nil, err
	}

	bubbleErrs, err := bubbleUpNullValuesInPlace(schema, p.selectionSet, mergedResult)
	if err == errNullBubbledToRoot {
		mergedResult = nil
	} else if err != nil {
		return nil, err
	}
	errs = append(errs, bubbleErrs...)

	formatted := formatResponseData(schema, p.selectionSet, mergedResult)

	return &planResult{Data: formatted, Errors: errs}, nil
}
