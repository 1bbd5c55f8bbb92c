package accounts

import "time"

// Event types published after a lifecycle operation or provisioning pass.
const (
	EventAccountCreated     = "account-created"
	EventAccountUpdated     = "account-updated"
	EventAccountDeleted     = "account-deleted"
	EventAccountSynced      = "account-synced"
	EventAccountProvisioned = "account-provisioned"
)

// Event announces a change to one or more accounts.
type Event struct {
	Type       string    `json:"type"`
	AccountIDs []string  `json:"accountIds"`
	Outcome    string    `json:"outcome,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventPublisher receives account events. Publish must not block.
type EventPublisher interface {
	Publish(event Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// Metrics observes the coordinator.
type Metrics interface {
	ObserveSaga(operation, outcome string)
	AddProvisioned(count int)
	ObserveSearch(duration time.Duration, returned int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSaga(string, string)       {}
func (noopMetrics) AddProvisioned(int)               {}
func (noopMetrics) ObserveSearch(time.Duration, int) {}
