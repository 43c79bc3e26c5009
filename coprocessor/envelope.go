// Package coprocessor builds the pluggable asynchronous middleware layers
// that externalize selected pieces of an in-flight request or response to a
// remote HTTP endpoint (the "coprocessor"), consume its reply, and either
// continue the pipeline with the mutated state or short-circuit with a
// synthesized response. It composes entirely out of the stage package's
// AsyncCheckpoint/MapFuture combinators, the way plugin.go's interceptors
// compose around ExecutableSchema.ExecuteQuery.
package coprocessor

import "encoding/json"

// EnvelopeVersion is the single schema generation this router is built
// against. Every envelope received back from a coprocessor must carry this
// exact value (spec invariant: mismatches are hard errors).
const EnvelopeVersion = 1

// Stage names the four pipeline points a coprocessor can be attached to.
// These are the only valid values of Envelope.Stage.
type Stage string

const (
	StageRouterRequest    Stage = "RouterRequest"
	StageRouterResponse   Stage = "RouterResponse"
	StageSubgraphRequest  Stage = "SubgraphRequest"
	StageSubgraphResponse Stage = "SubgraphResponse"
)

// Envelope is the wire contract exchanged with the coprocessor: sent
// outbound carrying whatever fields the configured field set enabled, and
// parsed back carrying the coprocessor's decisions. All fields besides
// Version and Stage are optional both ways; a nil field is left out of the
// JSON and, on return, leaves the corresponding value untouched.
type Envelope struct {
	Version     int                 `json:"version"`
	Stage       Stage               `json:"stage"`
	Control     *Control            `json:"control,omitempty"`
	ID          string              `json:"id,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Body        json.RawMessage     `json:"body,omitempty"`
	Context     json.RawMessage     `json:"context,omitempty"`
	SDL         *string             `json:"sdl,omitempty"`
	URI         *string             `json:"uri,omitempty"`
	Path        *string             `json:"path,omitempty"`
	Method      *string             `json:"method,omitempty"`
	ServiceName *string             `json:"service_name,omitempty"`
	StatusCode  *int                `json:"status_code,omitempty"`
}

// isRequestStage reports whether stage names one of the two *Request
// pipeline points, where a non-null Control is mandatory on receipt.
func (s Stage) isRequestStage() bool {
	return s == StageRouterRequest || s == StageSubgraphRequest
}
