package selection

// Position selects where an inserted member lands in a list.
type Position string

const (
	Append  Position = "append"
	Prepend Position = "prepend"
)

// Operation is a compiler-resolved list-operation marker. The concrete
// variants below are exhaustive; the interpreter switches over them.
type Operation interface {
	isOperation()
}

// Insert adds the field's payload record to the named list.
type Insert struct {
	List     string
	Position Position
	ParentID string
	When     *Predicate
}

// Remove drops the field's payload record from the named list.
type Remove struct {
	List     string
	ParentID string
}

// Toggle removes the record if present, inserts it otherwise.
type Toggle struct {
	List     string
	Position Position
	ParentID string
	When     *Predicate
}

// Delete removes the record identified by the field's value from every
// registered list and from the store. TypeName names the record's type;
// the field value supplies the id.
type Delete struct {
	TypeName string
}

func (Insert) isOperation() {}
func (Remove) isOperation() {}
func (Toggle) isOperation() {}
func (Delete) isOperation() {}

// Predicate is a @when / @when_not condition set. Must entries require the
// candidate's field to equal the given value; MustNot entries require it to
// differ. An empty predicate always passes.
type Predicate struct {
	Must    map[string]any
	MustNot map[string]any
}

// Accept reports whether a candidate's field values satisfy the predicate.
// Keys missing from the candidate are looked up in fallback (the argument
// values the list was registered with).
func (p *Predicate) Accept(candidate, fallback map[string]any) bool {
	if p == nil {
		return true
	}
	lookup := func(k string) (any, bool) {
		if v, ok := candidate[k]; ok {
			return v, true
		}
		v, ok := fallback[k]
		return v, ok
	}
	for k, want := range p.Must {
		got, ok := lookup(k)
		if !ok || !valueEqual(got, want) {
			return false
		}
	}
	for k, want := range p.MustNot {
		if got, ok := lookup(k); ok && valueEqual(got, want) {
			return false
		}
	}
	return true
}
