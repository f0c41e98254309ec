package events

// CacheWrite is emitted after a merge changed the store.
type CacheWrite struct {
	Keys []string // changed entity keys
}

// SubscriptionPush is emitted when a subscription sink receives a new value.
type SubscriptionPush struct {
	Subscription string
	Partial      bool
}

// ListChange is emitted after a structural change to a named list.
type ListChange struct {
	List string
	Kind string // insert, remove, toggle, delete
	Key  string // entity key of the member
}
