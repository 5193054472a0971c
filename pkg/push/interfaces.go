package push

import (
	"context"
	"time"
)

// Dispatcher is the contract for one channel's bulk-send primitive.
//
// SendBatch returns exactly one Outcome per input address, in no
// particular order. Per-address problems (dead token, malformed
// subscription, provider rejection) are Failure outcomes; the returned
// error is reserved for channel-wide transport failure, which the
// coordinator degrades to all-failed for that channel only.
type Dispatcher interface {
	Channel() Channel
	SendBatch(ctx context.Context, n Notification, addrs []Address) ([]Outcome, error)
}

// DeviceRegistry resolves users to their deliverable endpoints.
type DeviceRegistry interface {
	AddressesForUser(ctx context.Context, userID string) ([]Address, error)
	AddressesForTokens(ctx context.Context, tokens []string) ([]Address, error)
	Register(ctx context.Context, userID string, addr Address) error
	Unregister(ctx context.Context, userID string, addr Address) error
}

// DeliveryStore persists delivery logs and serves templates and history.
// LogDelivery is best-effort from the coordinator's point of view: a
// store failure never turns a completed delivery into a reported one.
type DeliveryStore interface {
	LogDelivery(ctx context.Context, rec DeliveryRecord) error
	Delivery(ctx context.Context, id string) (*DeliveryRecord, error)
	History(ctx context.Context, filter HistoryFilter) ([]DeliveryRecord, error)
	AggregateTotals(ctx context.Context) (Stats, error)
	Template(ctx context.Context, id string) (*Template, error)
}

// Queue defers notifications for later delivery. A job can be cancelled
// until it is dequeued; after that it is in flight.
type Queue interface {
	Enqueue(ctx context.Context, n Notification, delay time.Duration) (jobID string, err error)
	Cancel(ctx context.Context, jobID string) (bool, error)
}
