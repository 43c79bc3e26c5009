package plugins

import (
	"net/http"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/outpostgraph/router"
)

func init() {
	router.RegisterPlugin(&PlaygroundPlugin{})
}

type PlaygroundPlugin struct {
	*router.BasePlugin
}

func (p *PlaygroundPlugin) ID() string {
	return "playground"
}

func (p *PlaygroundPlugin) SetupPublicMux(mux *http.ServeMux) {
	mux.HandleFunc("/playground", playground.Handler("Router Playground", "/query"))
}
