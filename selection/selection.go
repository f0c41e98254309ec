// Package selection defines the resolved form of a GraphQL selection that the
// cache consumes: a tree of fields with concrete argument values plus the
// list-operation markers attached by the document resolver (or any other
// codegen producing the same metadata). The cache never sees raw document
// syntax, only these shapes.
package selection

// Field is one resolved field in a selection shape.
type Field struct {
	// Name is the schema field name.
	Name string

	// Alias is the response key when it differs from Name.
	Alias string

	// Arguments holds the concrete argument values after variable
	// substitution. Nil and empty are equivalent.
	Arguments map[string]any

	// Selection is the sub-selection for object-valued fields.
	// Nil marks a scalar leaf.
	Selection []*Field

	// List is set when the field was declared a named list.
	List *ListDeclaration

	// Operations are the mutation-side markers to run against this
	// field's response payload.
	Operations []Operation
}

// ListDeclaration marks a field as a named, mutation-targetable list.
type ListDeclaration struct {
	Name string
}

// ResponseKey returns the key under which the field appears in a response.
func (f *Field) ResponseKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// Slot returns the storage slot for the field: the field name, qualified by
// the argument signature when arguments are present. The same field name
// queried with different arguments occupies distinct slots.
func (f *Field) Slot() string {
	if len(f.Arguments) == 0 {
		return f.Name
	}
	return f.Name + "(" + ArgumentSignature(f.Arguments) + ")"
}
