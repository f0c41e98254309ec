package document

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/arkestra/graphcache/selection"
)

// The directive surface understood on fields. @list declares a named list on
// a query field; the rest are mutation-side markers the interpreter runs
// against the response payload.
const (
	dirList     = "list"
	dirInsert   = "insert"
	dirRemove   = "remove"
	dirToggle   = "toggle"
	dirDelete   = "delete"
	dirPrepend  = "prepend"
	dirAppend   = "append"
	dirParentID = "parentID"
	dirWhen     = "when"
	dirWhenNot  = "when_not"
)

// resolveMarkers translates a field's directives into a list declaration and
// operation markers. Position and scoping directives (@prepend, @append,
// @parentID, @when, @when_not) modify the operation markers on the same
// field regardless of order.
func resolveMarkers(f *selection.Field, directives ast.DirectiveList, variables map[string]any) error {
	var (
		position selection.Position
		parentID string
		when     *selection.Predicate
	)

	// Modifiers first so marker order in the document does not matter.
	for _, d := range directives {
		switch d.Name {
		case dirPrepend:
			position = selection.Prepend
		case dirAppend:
			position = selection.Append
		case dirParentID:
			v, err := argumentValue(d, "value", variables)
			if err != nil {
				return err
			}
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("document: @parentID value must be a string")
			}
			parentID = s
		case dirWhen, dirWhenNot:
			conds, err := directiveArguments(d, variables)
			if err != nil {
				return err
			}
			if when == nil {
				when = &selection.Predicate{}
			}
			if d.Name == dirWhen {
				when.Must = merge(when.Must, conds)
			} else {
				when.MustNot = merge(when.MustNot, conds)
			}
		}
	}

	for _, d := range directives {
		switch d.Name {
		case dirList:
			name, err := stringArgument(d, "name", variables)
			if err != nil {
				return err
			}
			f.List = &selection.ListDeclaration{Name: name}
		case dirInsert:
			name, err := stringArgument(d, "list", variables)
			if err != nil {
				return err
			}
			f.Operations = append(f.Operations, selection.Insert{
				List:     name,
				Position: positionArgument(d, position, variables),
				ParentID: parentID,
				When:     when,
			})
		case dirRemove:
			name, err := stringArgument(d, "list", variables)
			if err != nil {
				return err
			}
			f.Operations = append(f.Operations, selection.Remove{List: name, ParentID: parentID})
		case dirToggle:
			name, err := stringArgument(d, "list", variables)
			if err != nil {
				return err
			}
			f.Operations = append(f.Operations, selection.Toggle{
				List:     name,
				Position: positionArgument(d, position, variables),
				ParentID: parentID,
				When:     when,
			})
		case dirDelete:
			typename, err := stringArgument(d, "type", variables)
			if err != nil {
				return err
			}
			f.Operations = append(f.Operations, selection.Delete{TypeName: typename})
		}
	}
	return nil
}

func argumentValue(d *ast.Directive, name string, variables map[string]any) (any, error) {
	arg := d.Arguments.ForName(name)
	if arg == nil {
		return nil, fmt.Errorf("document: @%s requires a %q argument", d.Name, name)
	}
	return arg.Value.Value(variables)
}

func stringArgument(d *ast.Directive, name string, variables map[string]any) (string, error) {
	v, err := argumentValue(d, name, variables)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("document: @%s %q argument must be a non-empty string", d.Name, name)
	}
	return s, nil
}

// positionArgument reads an explicit position argument on the marker itself,
// falling back to the position set by @prepend/@append.
func positionArgument(d *ast.Directive, fallback selection.Position, variables map[string]any) selection.Position {
	if arg := d.Arguments.ForName("position"); arg != nil {
		if v, err := arg.Value.Value(variables); err == nil {
			if s, ok := v.(string); ok && (s == string(selection.Prepend) || s == string(selection.Append)) {
				return selection.Position(s)
			}
		}
	}
	return fallback
}

func directiveArguments(d *ast.Directive, variables map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(d.Arguments))
	for _, a := range d.Arguments {
		v, err := a.Value.Value(variables)
		if err != nil {
			return nil, err
		}
		out[a.Name] = v
	}
	return out, nil
}

func merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		return src
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
