// Package registry holds the immutable-after-construction mapping from
// subgraph name to the stage.Service that dispatches to it.
package registry

import (
	"fmt"

	"github.com/outpostgraph/router/stage"
)

// SubgraphRequest is the request type dispatched to a per-subgraph stage.
type SubgraphRequest struct {
	ServiceName string
	Headers     map[string][]string
	Body        interface{}
	URI         string
	Method      string
	Context     interface{}
}

// SubgraphResponse is the response type produced by a per-subgraph stage.
type SubgraphResponse struct {
	ServiceName string
	Headers     map[string][]string
	Body        interface{}
	StatusCode  int
	Context     interface{}
}

// NotFoundError is returned by Lookup when no subgraph is registered under
// the requested name. This is a planner-logic error: a well-formed plan
// never references a subgraph the registry doesn't carry.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("registry: no subgraph service registered for %q", e.Name)
}

// ServiceRegistry is a named collection of per-subgraph stages. Its zero
// value is not usable; build one with New. A ServiceRegistry is safe to
// share across goroutines: the underlying map is never mutated after
// construction, and Clone returns a value that aliases the same map rather
// than copying it, so execution goroutines fanning out across many
// subgraphs can each hold a ServiceRegistry without contention.
type ServiceRegistry struct {
	services map[string]stage.Service[*SubgraphRequest, *SubgraphResponse]
}

// New builds a ServiceRegistry from services. The map passed in is not
// retained by reference into the caller's mutable copy: New copies it once,
// up front, so later mutation of the caller's map cannot leak into a
// constructed registry.
func New(services map[string]stage.Service[*SubgraphRequest, *SubgraphResponse]) ServiceRegistry {
	copied := make(map[string]stage.Service[*SubgraphRequest, *SubgraphResponse], len(services))
	for name, svc := range services {
		copied[name] = svc
	}
	return ServiceRegistry{services: copied}
}

// Clone returns a ServiceRegistry that shares this one's underlying map.
// Because the map is never mutated after New, this is a cheap, safe alias
// rather than a deep copy.
func (r ServiceRegistry) Clone() ServiceRegistry {
	return ServiceRegistry{services: r.services}
}

// Lookup returns the stage registered for name, or a *NotFoundError.
func (r ServiceRegistry) Lookup(name string) (stage.Service[*SubgraphRequest, *SubgraphResponse], error) {
	svc, ok := r.services[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return svc, nil
}

// Names returns the registered subgraph names, in no particular order.
func (r ServiceRegistry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// Len reports the number of registered subgraphs.
func (r ServiceRegistry) Len() int {
	return len(r.services)
}
