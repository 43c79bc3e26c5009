// Package selection builds a typed, directive-resolved tree out of a raw
// GraphQL AST selection set. It mirrors the shape of gqlparser's own
// ast.Selection sum type (Field / InlineFragment / FragmentSpread each
// implementing a private marker method) rather than introducing a second,
// incompatible representation.
package selection

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
)

// recursionLimit bounds AST -> Selection recursion. Chosen the same way the
// source material chose it: low enough to never risk a stack overflow, high
// enough that no legitimate query trips it.
const recursionLimit = 512

// RecursionLimitExceededError is returned when building a Selection tree
// recurses past recursionLimit.
type RecursionLimitExceededError struct {
	Limit int
}

func (e *RecursionLimitExceededError) Error() string {
	return fmt.Sprintf("selection processing recursion limit (%d) exceeded", e.Limit)
}

// InvalidTypeError is returned when a field or inline fragment cannot be
// resolved against the schema.
type InvalidTypeError struct {
	TypeName string
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("invalid type: %s", e.TypeName)
}

// builtinScalarNames are the GraphQL spec scalars; values of these types
// never carry a sub-selection.
var builtinScalarNames = map[string]bool{
	"Int":     true,
	"Float":   true,
	"String":  true,
	"Boolean": true,
	"ID":      true,
}

// FieldType wraps a resolved *ast.Type together with the schema it was
// resolved against, so callers can ask schema-aware questions about it
// without threading the schema through separately.
type FieldType struct {
	Type   *ast.Type
	Schema *ast.Schema
}

// NamedFieldType builds a FieldType for a bare named type, as used when a
// selection set is synthesized against an inline fragment's type condition.
func NamedFieldType(name string, schema *ast.Schema) FieldType {
	return FieldType{Type: &ast.Type{NamedType: name}, Schema: schema}
}

// InnerTypeName returns the named type stripped of any list/non-null
// wrappers, or "" if Type is nil.
func (f FieldType) InnerTypeName() string {
	if f.Type == nil {
		return ""
	}
	return f.Type.Name()
}

// IsBuiltinScalar reports whether values of this type can never carry a
// sub-selection: either one of the five spec-defined scalars, or a type
// that resolves to a Scalar (or Enum) definition in the schema.
func (f FieldType) IsBuiltinScalar() bool {
	name := f.InnerTypeName()
	if name == "" {
		return false
	}
	if builtinScalarNames[name] {
		return true
	}
	if f.Schema == nil {
		return false
	}
	def, ok := f.Schema.Types[name]
	if !ok {
		return false
	}
	return def.Kind == ast.Scalar || def.Kind == ast.Enum
}

// Skip is the three-valued @skip(if:) condition.
type Skip struct {
	kind     skipIncludeKind
	variable string
}

// Include is the three-valued @include(if:) condition.
type Include struct {
	kind     skipIncludeKind
	variable string
}

type skipIncludeKind int

const (
	condNo skipIncludeKind = iota
	condYes
	condVariable
)

// SkipNo, SkipYes and SkipVariable construct Skip conditions.
var (
	SkipNo  = Skip{kind: condNo}
	SkipYes = Skip{kind: condYes}
)

// SkipVariable returns a Skip condition deferred to a query variable.
func SkipVariable(name string) Skip { return Skip{kind: condVariable, variable: name} }

// IncludeYes, IncludeNo and IncludeVariable construct Include conditions.
var (
	IncludeYes = Include{kind: condYes}
	IncludeNo  = Include{kind: condNo}
)

// IncludeVariable returns an Include condition deferred to a query variable.
func IncludeVariable(name string) Include { return Include{kind: condVariable, variable: name} }

// StaticallySkipped reports whether this condition, without consulting any
// variables, is known to drop the selection.
func (s Skip) StaticallySkipped() bool { return s.kind == condYes }

// StaticallySkipped reports whether this condition, without consulting any
// variables, is known to drop the selection.
func (i Include) StaticallySkipped() bool { return i.kind == condNo }

// ShouldSkip evaluates the condition against a variable bag. The second
// return value is false when the condition is variable-backed and the
// variable is absent or not boolean-typed.
func (s Skip) ShouldSkip(variables map[string]interface{}) (bool, bool) {
	switch s.kind {
	case condYes:
		return true, true
	case condNo:
		return false, true
	default:
		v, ok := variables[s.variable].(bool)
		return v, ok
	}
}

// ShouldInclude evaluates the condition against a variable bag, with the
// same two-value shape as ShouldSkip.
func (i Include) ShouldInclude(variables map[string]interface{}) (bool, bool) {
	switch i.kind {
	case condYes:
		return true, true
	case condNo:
		return false, true
	default:
		v, ok := variables[i.variable].(bool)
		return v, ok
	}
}

// Variable returns the deferred variable name and whether this condition is
// variable-backed.
func (s Skip) Variable() (string, bool) { return s.variable, s.kind == condVariable }

// Variable returns the deferred variable name and whether this condition is
// variable-backed.
func (i Include) Variable() (string, bool) { return i.variable, i.kind == condVariable }

// Selection is the tagged variant of a selection-set entry: a Field, an
// InlineFragment or a FragmentSpread. The marker method keeps this a closed
// set, the same way ast.Selection is closed over *ast.Field/
// *ast.InlineFragment/*ast.FragmentSpread.
type Selection interface {
	isSelection()
}

// Field is a leaf or composite field selection.
type Field struct {
	Name         string
	Alias        string
	SelectionSet []Selection
	FieldType    FieldType
	Skip         Skip
	Include      Include
}

func (*Field) isSelection() {}

// InlineFragment applies a selection set under a (possibly synthesized)
// type condition.
type InlineFragment struct {
	TypeCondition string
	Skip          Skip
	Include       Include
	KnownType     bool
	SelectionSet  []Selection
}

func (*InlineFragment) isSelection() {}

// FragmentSpread records a reference to a named fragment; the fragment's
// body is resolved elsewhere by whoever holds the fragment dictionary.
type FragmentSpread struct {
	Name      string
	KnownType string
	HasKnown  bool
	Skip      Skip
	Include   Include
}

func (*FragmentSpread) isSelection() {}

// ResponseKey returns the field's response key: its alias if set, else its name.
func (f *Field) ResponseKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// FromAST converts a single AST selection node into at most one Selection,
// recursing into child selection sets as needed. A nil Selection with a nil
// error means the node was statically skipped and contributes nothing.
func FromAST(node ast.Selection, currentType FieldType, schema *ast.Schema, depth int) (Selection, error) {
	if depth > recursionLimit {
		return nil, &RecursionLimitExceededError{Limit: recursionLimit}
	}
	depth++

	switch n := node.(type) {
	case *ast.Field:
		return fieldFromAST(n, currentType, schema, depth)
	case *ast.InlineFragment:
		return inlineFragmentFromAST(n, currentType, schema, depth)
	case *ast.FragmentSpread:
		return fragmentSpreadFromAST(n, currentType)
	default:
		return nil, fmt.Errorf("selection: unknown AST selection type %T", node)
	}
}

func parseSkip(directives ast.DirectiveList) Skip {
	for _, d := range directives {
		if d.Name != "skip" {
			continue
		}
		arg := d.Arguments.ForName("if")
		if arg == nil || arg.Value == nil {
			continue
		}
		switch arg.Value.Kind {
		case ast.BooleanValue:
			if arg.Value.Raw == "true" {
				return SkipYes
			}
			return SkipNo
		case ast.Variable:
			return SkipVariable(arg.Value.Raw)
		}
	}
	return SkipNo
}

func parseInclude(directives ast.DirectiveList) Include {
	for _, d := range directives {
		if d.Name != "include" {
			continue
		}
		arg := d.Arguments.ForName("if")
		if arg == nil || arg.Value == nil {
			continue
		}
		switch arg.Value.Kind {
		case ast.BooleanValue:
			if arg.Value.Raw == "true" {
				return IncludeYes
			}
			return IncludeNo
		case ast.Variable:
			return IncludeVariable(arg.Value.Raw)
		}
	}
	return IncludeYes
}

const (
	introspectionTypename = "__typename"
	introspectionSchema   = "__schema"
	introspectionType     = "__type"
)

func resolveFieldType(fieldName string, currentType FieldType, schema *ast.Schema) (FieldType, error) {
	switch fieldName {
	case introspectionTypename:
		return NamedFieldType("String", schema), nil
	case introspectionSchema:
		return NamedFieldType("__Schema", schema), nil
	case introspectionType:
		return NamedFieldType("__Type", schema), nil
	}

	name := currentType.InnerTypeName()
	if name != "" {
		if def, ok := schema.Types[name]; ok {
			if fd := def.Fields.ForName(fieldName); fd != nil {
				return FieldType{Type: fd.Type, Schema: schema}, nil
			}
		}
	}

	return FieldType{}, &InvalidTypeError{TypeName: currentType.InnerTypeName()}
}

func fieldFromAST(n *ast.Field, currentType FieldType, schema *ast.Schema, depth int) (Selection, error) {
	skip := parseSkip(n.Directives)
	if skip.StaticallySkipped() {
		return nil, nil
	}
	include := parseInclude(n.Directives)
	if include.StaticallySkipped() {
		return nil, nil
	}

	fieldType, err := resolveFieldType(n.Name, currentType, schema)
	if err != nil {
		return nil, err
	}

	var children []Selection
	if !fieldType.IsBuiltinScalar() && n.SelectionSet != nil {
		children, err = selectionSetFromAST(n.SelectionSet, fieldType, schema, depth)
		if err != nil {
			return nil, err
		}
	}

	return &Field{
		Name:         n.Name,
		Alias:        n.Alias,
		SelectionSet: children,
		FieldType:    fieldType,
		Skip:         skip,
		Include:      include,
	}, nil
}

func inlineFragmentFromAST(n *ast.InlineFragment, currentType FieldType, schema *ast.Schema, depth int) (Selection, error) {
	skip := parseSkip(n.Directives)
	if skip.StaticallySkipped() {
		return nil, nil
	}
	include := parseInclude(n.Directives)
	if include.StaticallySkipped() {
		return nil, nil
	}

	typeCondition := n.TypeCondition
	if typeCondition == "" {
		typeCondition = currentType.InnerTypeName()
	}
	if typeCondition == "" {
		return nil, &InvalidTypeError{TypeName: currentType.InnerTypeName()}
	}

	fragmentType := NamedFieldType(typeCondition, schema)
	children, err := selectionSetFromAST(n.SelectionSet, fragmentType, schema, depth)
	if err != nil {
		return nil, err
	}

	return &InlineFragment{
		TypeCondition: typeCondition,
		Skip:          skip,
		Include:       include,
		KnownType:     currentType.InnerTypeName() == typeCondition,
		SelectionSet:  children,
	}, nil
}

func fragmentSpreadFromAST(n *ast.FragmentSpread, currentType FieldType) (Selection, error) {
	skip := parseSkip(n.Directives)
	if skip.StaticallySkipped() {
		return nil, nil
	}
	include := parseInclude(n.Directives)
	if include.StaticallySkipped() {
		return nil, nil
	}

	known := currentType.InnerTypeName()
	return &FragmentSpread{
		Name:      n.Name,
		KnownType: known,
		HasKnown:  known != "",
		Skip:      skip,
		Include:   include,
	}, nil
}

func selectionSetFromAST(set ast.SelectionSet, currentType FieldType, schema *ast.Schema, depth int) ([]Selection, error) {
	var out []Selection
	for _, node := range set {
		sel, err := FromAST(node, currentType, schema, depth)
		if err != nil {
			return nil, err
		}
		if sel != nil {
			out = append(out, sel)
		}
	}
	return out, nil
}
