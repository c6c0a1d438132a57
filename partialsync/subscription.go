package partialsync

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/livedb/store"
)

// subscriptionsTable holds one record per subscription, keyed by name.
const subscriptionsTable = "__subscriptions"

type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Subscription is the persisted state of one partial query.
type Subscription struct {
	ID        string      `msgpack:"id"`
	Name      string      `msgpack:"name"`
	Query     store.Query `msgpack:"query"`
	Status    Status      `msgpack:"status"`
	Error     string      `msgpack:"error,omitempty"`
	CreatedAt time.Time   `msgpack:"created_at"`
	UpdatedAt time.Time   `msgpack:"updated_at"`
}

func (sub *Subscription) String() string {
	if sub.Status == StatusError {
		return fmt.Sprintf("%s(%s: %s)", sub.Name, sub.Status, sub.Error)
	}
	return fmt.Sprintf("%s(%s)", sub.Name, sub.Status)
}

// SubscriptionName derives the subscription name from the canonical text of
// q, so equal queries share one subscription.
func SubscriptionName(q store.Query) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(q.String()))
}

func loadSubscription(tx *store.Tx, name string) (*Subscription, error) {
	var sub Subscription
	found, err := tx.Get(subscriptionsTable, name, &sub)
	if err != nil {
		return nil, err
	} else if !found {
		return nil, nil
	}
	return &sub, nil
}
