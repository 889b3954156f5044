package interfaces

import (
	"context"
	"time"
)

// Operation identifies the action requested against a logical path.
type Operation string

const (
	ReadOperation   Operation = "read"
	WriteOperation  Operation = "write"
	DeleteOperation Operation = "delete"
	ListOperation   Operation = "list"
)

// Valid reports whether the operation is one of the four logical verbs.
func (op Operation) Valid() bool {
	switch op {
	case ReadOperation, WriteOperation, DeleteOperation, ListOperation:
		return true
	default:
		return false
	}
}

// Request is a single logical operation dispatched through the core router.
type Request struct {
	// Operation is the requested action.
	Operation Operation

	// Path is the full logical path, e.g. "secret/app/config". Paths never
	// start with "/".
	Path string

	// Data carries the request payload for write operations.
	Data map[string]interface{}

	// ClientToken identifies the caller. Empty for unauthenticated
	// endpoints such as auth backend logins.
	ClientToken string

	// RealmID scopes the request to a tenant realm. Empty means the root
	// realm.
	RealmID string
}

// Response is the result of a handled logical request.
type Response struct {
	// Data carries the response payload.
	Data map[string]interface{}

	// Lease is optional TTL bookkeeping declared by the backend.
	Lease *LeaseMetadata
}

// LeaseMetadata is basic TTL bookkeeping attached to a response. Dynamic
// lease renewal beyond this is out of scope.
type LeaseMetadata struct {
	TTL       time.Duration
	Renewable bool
}

// Backend handles logical requests for a single mount. The path on the
// request is mount-relative by the time a backend sees it.
type Backend interface {
	HandleRequest(ctx context.Context, req *Request) (*Response, error)
}
