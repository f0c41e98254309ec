package cache

import "fmt"

// ListResolutionError reports a list operation that could not be applied:
// the named list is unknown, its anchor record is gone, or the name is
// registered under several anchors and no parent id was supplied. The
// surrounding merge is never aborted by it.
type ListResolutionError struct {
	List     string
	ParentID string
	Reason   string
}

func (e *ListResolutionError) Error() string {
	if e.ParentID != "" {
		return fmt.Sprintf("cache: list %q (parent %q): %s", e.List, e.ParentID, e.Reason)
	}
	return fmt.Sprintf("cache: list %q: %s", e.List, e.Reason)
}

// DuplicateListRegistrationError reports a list name registered twice under
// the same anchor with a conflicting location or filter set. This is a
// configuration error and is surfaced at registration time.
type DuplicateListRegistrationError struct {
	List   string
	Anchor EntityKey
}

func (e *DuplicateListRegistrationError) Error() string {
	return fmt.Sprintf("cache: list %q already registered under %q", e.List, e.Anchor)
}
