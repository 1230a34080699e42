package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced: "channel." for connection lifecycle,
// "chat." for room and message updates, "presence." for online-set
// changes, "notify." for notification store mutations and
// "reconcile." for match reconciliation passes.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
