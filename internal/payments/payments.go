// Package payments creates payment intents and verifies provider webhooks.
package payments

import (
	"context"
	"errors"
)

var (
	ErrSignature = errors.New("payments: invalid webhook signature")
	ErrPayload   = errors.New("payments: malformed webhook payload")
)

// Intent is what a client needs to confirm a payment.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
}

type EventKind int

const (
	EventIgnored EventKind = iota
	EventSucceeded
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	default:
		return "ignored"
	}
}

// Event is a verified webhook delivery reduced to what order handling needs.
type Event struct {
	ID       string
	Type     string
	Kind     EventKind
	IntentID string
	Metadata map[string]string
}

// MetadataOrderID is the intent metadata key carrying our order id.
const MetadataOrderID = "order_id"

type Provider interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (Intent, error)
	VerifyWebhook(payload []byte, signature string) (Event, error)
}
