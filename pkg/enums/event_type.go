package enums

import (
	"fmt"
	"strings"
)

// EventType maps to the notification types delivered by the settlement provider.
type EventType string

const (
	EventMintCompleted     EventType = "mint.completed"
	EventMintFailed        EventType = "mint.failed"
	EventRedeemCompleted   EventType = "redeem.completed"
	EventRedeemFailed      EventType = "redeem.failed"
	EventTransferCompleted EventType = "transfer.completed"
	EventTransferFailed    EventType = "transfer.failed"
	EventCardCreated       EventType = "card.created"
	EventCardUpdated       EventType = "card.updated"
	EventCardFailed        EventType = "card.failed"
	EventWebhookTest       EventType = "webhooks.test"
)

var validEventTypes = []EventType{
	EventMintCompleted,
	EventMintFailed,
	EventRedeemCompleted,
	EventRedeemFailed,
	EventTransferCompleted,
	EventTransferFailed,
	EventCardCreated,
	EventCardUpdated,
	EventCardFailed,
	EventWebhookTest,
}

// IsValid reports whether the value is a known notification type.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventType converts raw input into an EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// Kind returns the transaction kind the event pertains to.
func (e EventType) Kind() (TransactionKind, error) {
	prefix, _, found := strings.Cut(string(e), ".")
	if !found {
		return "", fmt.Errorf("event type %q has no kind prefix", e)
	}
	return ParseTransactionKind(prefix)
}

// IsCompletion reports whether the event signals the subject reached its
// success state.
func (e EventType) IsCompletion() bool {
	switch e {
	case EventMintCompleted, EventRedeemCompleted, EventTransferCompleted, EventCardCreated, EventCardUpdated:
		return true
	}
	return false
}

// IsFailure reports whether the event signals the subject failed terminally.
func (e EventType) IsFailure() bool {
	switch e {
	case EventMintFailed, EventRedeemFailed, EventTransferFailed, EventCardFailed:
		return true
	}
	return false
}
