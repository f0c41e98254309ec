package events

import "time"

// TransportStart is emitted before a request leaves through a transport.
type TransportStart struct {
	Kind          string // "http" or "ws"
	URL           string
	OperationName string
}

// TransportFinish is emitted after the transport call completes.
type TransportFinish struct {
	Kind          string
	URL           string
	OperationName string
	ErrorCount    int // GraphQL errors carried in the response
	Err           error
	Duration      time.Duration
}
