// Package document resolves tagged GraphQL documents into the selection
// shapes the cache consumes. It substitutes variables, flattens fragment
// spreads and translates the directive surface (@list, @insert, @remove,
// @toggle, @delete, @prepend/@append, @parentID, @when/@when_not) into
// marker metadata. Downstream of this package no raw document syntax exists.
package document

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/arkestra/graphcache/selection"
)

// Operation is a resolved executable operation.
type Operation struct {
	Name  string
	Type  string // "query", "mutation" or "subscription"
	Shape []*selection.Field
}

// Resolve parses source, picks the named operation (or the only one) and
// resolves its selection against the given variable values.
func Resolve(source, operationName string, variables map[string]any) (*Operation, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	op := doc.Operations.ForName(operationName)
	if op == nil && operationName == "" && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return nil, fmt.Errorf("document: operation %q not found", operationName)
	}
	shape, err := resolveSelectionSet(doc, op.SelectionSet, variables)
	if err != nil {
		return nil, err
	}
	return &Operation{Name: op.Name, Type: string(op.Operation), Shape: shape}, nil
}

// ResolveFragment resolves a fragment definition from source into a shape
// suitable for an entity-anchored subscription.
func ResolveFragment(source, fragmentName string, variables map[string]any) ([]*selection.Field, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	frag := doc.Fragments.ForName(fragmentName)
	if frag == nil {
		return nil, fmt.Errorf("document: fragment %q not found", fragmentName)
	}
	return resolveSelectionSet(doc, frag.SelectionSet, variables)
}

func resolveSelectionSet(doc *ast.QueryDocument, set ast.SelectionSet, variables map[string]any) ([]*selection.Field, error) {
	var out []*selection.Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			f, include, err := resolveField(doc, s, variables)
			if err != nil {
				return nil, err
			}
			if include {
				out = append(out, f)
			}
		case *ast.FragmentSpread:
			frag := doc.Fragments.ForName(s.Name)
			if frag == nil {
				return nil, fmt.Errorf("document: fragment %q not found", s.Name)
			}
			fields, err := resolveSelectionSet(doc, frag.SelectionSet, variables)
			if err != nil {
				return nil, err
			}
			out = append(out, fields...)
		case *ast.InlineFragment:
			fields, err := resolveSelectionSet(doc, s.SelectionSet, variables)
			if err != nil {
				return nil, err
			}
			out = append(out, fields...)
		}
	}
	return out, nil
}

func resolveField(doc *ast.QueryDocument, field *ast.Field, variables map[string]any) (*selection.Field, bool, error) {
	include, err := evalConditionals(field.Directives, variables)
	if err != nil || !include {
		return nil, false, err
	}

	f := &selection.Field{Name: field.Name}
	if field.Alias != "" && field.Alias != field.Name {
		f.Alias = field.Alias
	}
	if len(field.Arguments) > 0 {
		args := make(map[string]any, len(field.Arguments))
		for _, a := range field.Arguments {
			v, err := a.Value.Value(variables)
			if err != nil {
				return nil, false, err
			}
			args[a.Name] = v
		}
		f.Arguments = args
	}
	if len(field.SelectionSet) > 0 {
		sub, err := resolveSelectionSet(doc, field.SelectionSet, variables)
		if err != nil {
			return nil, false, err
		}
		f.Selection = sub
	}
	if err := resolveMarkers(f, field.Directives, variables); err != nil {
		return nil, false, err
	}
	return f, true, nil
}

func evalConditionals(directives ast.DirectiveList, variables map[string]any) (bool, error) {
	for _, d := range directives {
		if d.Name != "skip" && d.Name != "include" {
			continue
		}
		arg := d.Arguments.ForName("if")
		if arg == nil {
			return false, fmt.Errorf("document: @%s requires an 'if' argument", d.Name)
		}
		v, err := arg.Value.Value(variables)
		if err != nil {
			return false, err
		}
		cond, _ := v.(bool)
		if d.Name == "skip" && cond {
			return false, nil
		}
		if d.Name == "include" && !cond {
			return false, nil
		}
	}
	return true, nil
}
