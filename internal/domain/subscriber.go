package domain

import "context"

// Subscriber is one notification endpoint as seen by the dispatcher.
type Subscriber struct {
	ID       string
	Channel  string // "telegram" or "discord"
	Address  string // chat ID or webhook URL
	Live     bool
	Failures int // consecutive delivery failures
}

// SubscriberRegistry owns subscriber lifecycle. The dispatcher only reads the
// active set and reports per-delivery results; the registry decides when a
// persistently failing target is deactivated.
type SubscriberRegistry interface {
	Active(ctx context.Context) ([]Subscriber, error)
	RecordSuccess(ctx context.Context, id string)
	// RecordFailure bumps the consecutive-failure count and returns true when
	// the target crossed the removal threshold and was deactivated.
	RecordFailure(ctx context.Context, id string) bool
}
