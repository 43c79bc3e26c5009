package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/outpostgraph/router"
	"github.com/vektah/gqlparser/v2/ast"
)

func init() {
	router.RegisterPlugin(NewMetaPlugin())
}

var metaPluginSchema = `
directive @namespace on OBJECT
directive @boundary on OBJECT | FIELD_DEFINITION
type Service {
	name: String!
	version: String!
	schema: String!
}
type RouterService @boundary {
	id: ID!
	name: String!
	version: String!
	schema: String!
	status: String!
	serviceUrl: String!
}
type RouterFieldArgument {
	name: String!
	type: String!
}
type RouterField @boundary {
	id: ID!
	name: String!
	type: String!
	service: String!
	arguments: [RouterFieldArgument!]!
	description: String
}
type RouterEnumValue {
	name: String!
	description: String
}
type RouterType @boundary {
	id: ID!
	kind: String!
	name: String!
	directives: [String!]!
	fields: [RouterField!]!
	enumValues: [RouterEnumValue!]!
	description: String
}
type RouterSchema {
	types: [RouterType!]!
}
type RouterMetaQuery @namespace {
	services: [RouterService!]!
	schema: RouterSchema!
	field(id: ID!): RouterField
}
type Query {
	service: Service!
	meta: RouterMetaQuery!
	getField(id: ID!): RouterField @boundary
	getType(id: ID!): RouterType @boundary
	getService(id: ID!): RouterService @boundary
}
`

type metaPluginResolver struct {
	Service struct {
		Name    string
		Version string
		Schema  string
	}
	executableSchema *router.ExecutableSchema
}

func newMetaPluginResolver() *metaPluginResolver {
	return &metaPluginResolver{
		Service: struct {
			Name    string
			Version string
			Schema  string
		}{
			Name:    "router-meta-plugin",
			Version: "latest",
			Schema:  metaPluginSchema,
		},
	}
}

func (r *metaPluginResolver) Meta() *metaPluginResolver {
	return r
}

type routerArg struct {
	Name string
	Type string
}

type routerField struct {
	ID          graphql.ID
	Name        string
	Type        string
	Service     string
	Description *string
	Arguments   []routerArg
}

type routerFields []routerField

func (f routerFields) Len() int {
	return len(f)
}

func (f routerFields) Less(i, j int) bool {
	if f[i].Name == router.IdFieldName {
		return true
	}
	return f[i].Name < f[j].Name
}

func (f routerFields) Swap(i, j int) {
	f[i], f[j] = f[j], f[i]
}

type routerEnumValue struct {
	Name        string
	Description *string
}

type routerType struct {
	Kind        string
	Name        string
	Directives  []string
	Fields      []routerField
	EnumValues  []routerEnumValue
	Description *string
}

func (t routerType) Id() graphql.ID {
	return graphql.ID(t.Name)
}

type routerTypes []routerType

func (t routerTypes) Len() int {
	return len(t)
}

func (t routerTypes) Less(i, j int) bool {
	return t[i].Name < t[j].Name
}

func (t routerTypes) Swap(i, j int) {
	t[i], t[j] = t[j], t[i]
}

type routerSchema struct {
	Types []routerType
}

func (r *metaPluginResolver) Schema() (*routerSchema, error) {
	schema := r.executableSchema.MergedSchema
	var types routerTypes
	for name, def := range schema.Types {
		types = append(types, r.routerType(name, def))
	}
	sort.Sort(types)
	return &routerSchema{
		Types: types,
	}, nil
}

func kindToStr(k ast.DefinitionKind) string {
	if k == ast.InputObject {
		return "input"
	}
	if k == ast.Object {
		return "type"
	}
	return strings.ToLower(string(k))
}

func strToPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *metaPluginResolver) GetService(ctx context.Context, args struct{ ID graphql.ID }) *routerService {
	for _, service := range r.executableSchema.Services {
		if service.Name == string(args.ID) {
			return &routerService{
				Name:       service.Name,
				Version:    service.Version,
				Schema:     service.SchemaSource,
				Status:     service.Status,
				ServiceURL: service.ServiceURL,
			}
		}
	}
	return nil
}

func (p *metaPluginResolver) GetType(ctx context.Context, args struct{ ID graphql.ID }) (*routerType, error) {
	typeName := string(args.ID)
	var typeDef *ast.Definition
	for _, def := range p.executableSchema.MergedSchema.Types {
		if def.Name == typeName {
			typeDef = def
			break
		}
	}
	if typeDef == nil {
		return nil, nil
	}
	result := p.routerType(typeName, typeDef)
	return &result, nil
}

func (r *metaPluginResolver) routerType(name string, def *ast.Definition) routerType {
	var fields routerFields
	for _, f := range def.Fields {
		if strings.HasPrefix(f.Name, "__") {
			continue
		}
		var svcName string
		if svcURL, err := r.executableSchema.Locations.URLFor(def.Name, "", f.Name); err == nil {
			svc := r.executableSchema.Services[svcURL]
			svcName = svc.Name
		}
		var args []routerArg
		for _, a := range f.Arguments {
			args = append(args, routerArg{
				Name: a.Name,
				Type: a.Type.String(),
			})
		}
		fields = append(fields, routerField{
			ID:          graphql.ID(def.Name + "." + f.Name),
			Name:        f.Name,
			Type:        f.Type.String(),
			Service:     svcName,
			Description: strToPtr(f.Description),
			Arguments:   args,
		})
	}
	sort.Sort(fields)
	var enum []routerEnumValue
	for _, v := range def.EnumValues {
		enum = append(enum, routerEnumValue{
			Name:        v.Name,
			Description: strToPtr(v.Description),
		})
	}
	var directives []string
	for _, d := range def.Directives {
		directives = append(directives, d.Name)
	}
	return routerType{
		Kind:        kindToStr(def.Kind),
		Name:        name,
		Directives:  directives,
		Fields:      fields,
		Description: strToPtr(def.Description),
		EnumValues:  enum,
	}
}

func (p *metaPluginResolver) Field(ctx context.Context, args struct{ ID graphql.ID }) (*routerField, error) {
	return p.GetField(ctx, args)
}

func (p *metaPluginResolver) GetField(ctx context.Context, args struct{ ID graphql.ID }) (*routerField, error) {
	splitFieldName := strings.Split(string(args.ID), ".")
	if len(splitFieldName) != 2 {
		return nil, errors.New("invalid ID passed to query")
	}
	typeName := splitFieldName[0]
	fieldName := splitFieldName[1]
	for _, def := range p.executableSchema.MergedSchema.Types {
		if def.Name != typeName {
			continue
		}
		var field *routerField
		for _, f := range def.Fields {
			if f.Name != fieldName {
				continue
			}
			var svcName string
			if svcURL, err := p.executableSchema.Locations.URLFor(def.Name, "", f.Name); err == nil {
				svc := p.executableSchema.Services[svcURL]
				svcName = svc.Name
			}
			var args []routerArg
			for _, a := range f.Arguments {
				args = append(args, routerArg{
					Name: a.Name,
					Type: a.Type.String(),
				})
			}
			field = &routerField{
				ID:          graphql.ID(def.Name + "." + f.Name),
				Name:        f.Name,
				Type:        f.Type.String(),
				Service:     svcName,
				Description: strToPtr(f.Description),
				Arguments:   args,
			}
			return field, nil
		}
	}
	return nil, nil
}

type routerService struct {
	Name       string
	Version    string
	Schema     string
	Status     string
	ServiceURL string
}

func (s routerService) Id() graphql.ID {
	return graphql.ID(s.Name)
}

type externalRouterServices []routerService

func (s externalRouterServices) Len() int {
	return len(s)
}

func (s externalRouterServices) Less(i, j int) bool {
	// unreachable services have no name
	if s[i].Name == s[j].Name {
		return s[i].ServiceURL < s[j].ServiceURL
	}
	return s[i].Name < s[j].Name
}

func (s externalRouterServices) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (r *metaPluginResolver) Services() []routerService {
	var services externalRouterServices
	for _, element := range r.executableSchema.Services {
		services = append(services, routerService{
			Name:       element.Name,
			Version:    element.Version,
			Schema:     element.SchemaSource,
			Status:     element.Status,
			ServiceURL: element.ServiceURL,
		})
	}
	sort.Sort(services)
	return services
}

type MetaPlugin struct {
	*router.BasePlugin
	resolver *metaPluginResolver
}

func NewMetaPlugin() *MetaPlugin {
	return &MetaPlugin{
		resolver: newMetaPluginResolver(),
	}
}

func (p *MetaPlugin) Init(s *router.ExecutableSchema) {
	p.resolver.executableSchema = s
}

func (i *MetaPlugin) ID() string {
	return "meta"
}

func (i *MetaPlugin) GraphqlQueryPath() (bool, string) {
	return true, "router-meta-plugin-query"
}

func (i *MetaPlugin) SetupPrivateMux(mux *http.ServeMux) {
	_, path := i.GraphqlQueryPath()
	s := graphql.MustParseSchema(metaPluginSchema, i.resolver, graphql.UseFieldResolvers())
	mux.Handle(fmt.Sprintf("/%s", path), &relay.Handler{Schema: s})
}
