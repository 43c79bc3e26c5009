package router

import (
	"context"
	"time"

	"github.com/outpostgraph/router/coprocessor"
)

// observeCoprocessorCall is installed as the coprocessor.Client's Observer.
// It reports call latency and errors to Prometheus and folds the same
// fields into the request's structured log event, the way the rest of the
// pipeline's cross-cutting concerns attach to both.
func observeCoprocessorCall(ctx context.Context, stage coprocessor.Stage, duration time.Duration, err error) {
	promCoprocessorRequestDuration.WithLabelValues(string(stage)).Observe(duration.Seconds())

	fields := EventFields{
		"coprocessor.stage":    string(stage),
		"coprocessor.duration": duration.String(),
	}
	if err != nil {
		promCoprocessorRequestErrors.WithLabelValues(string(stage)).Inc()
		fields["coprocessor.error"] = err.Error()
	}
	AddFields(ctx, fields)
}
