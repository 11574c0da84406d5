// Package randomness defines the verifiable randomness request domain types.
package randomness

import "time"

// RequestStatus tracks a randomness request through its lifecycle.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusFulfilled RequestStatus = "fulfilled"
	RequestStatusFailed    RequestStatus = "failed"
)

// Params is the outbound request shape handed to the oracle. KeyHash and
// SubscriptionID identify the gas lane and funding subscription; both are
// opaque to this service and forwarded as configured.
type Params struct {
	KeyHash          string
	SubscriptionID   string
	Confirmations    int
	CallbackGasLimit int
	Words            int
}

// Request represents one outstanding or resolved randomness request.
type Request struct {
	ID      string
	RoundID string
	Params
	Result      []uint64
	Status      RequestStatus
	Error       string
	CreatedAt   time.Time
	FulfilledAt time.Time
}
