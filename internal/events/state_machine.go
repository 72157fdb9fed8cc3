package events

import (
	"fmt"

	"github.com/nexuspay/settlement-relay/pkg/enums"
	pkgerrors "github.com/nexuspay/settlement-relay/pkg/errors"
)

// NextStatus computes the transaction status an event transitions to.
// Completion and failure events settle the transaction from either
// non-terminal state; card.created and card.updated count as completions,
// mirroring the transfer lifecycle. Callers are expected to short-circuit
// terminal transactions before asking.
func NextStatus(current enums.TransactionStatus, event enums.EventType) (enums.TransactionStatus, error) {
	if current.IsTerminal() {
		return current, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("transaction already settled as %s", current))
	}

	switch {
	case event.IsCompletion():
		return enums.TransactionCompleted, nil
	case event.IsFailure():
		return enums.TransactionFailed, nil
	default:
		return current, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("event type %s does not map to a status transition", event))
	}
}
