package events

import "time"

// MutationStart is emitted before a mutation is dispatched.
type MutationStart struct {
	OperationName string
	Optimistic    bool
}

// MutationFinish is emitted after a mutation committed or rolled back.
type MutationFinish struct {
	OperationName string
	RolledBack    bool
	Err           error
	Duration      time.Duration
}
