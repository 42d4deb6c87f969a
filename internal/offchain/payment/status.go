// Package payment implements the payment object model and status lattice
// the off-chain engine drives to one of two terminal states.
package payment

// Status is one stage in the payment status lattice. The non-terminal
// statuses are strictly height-ordered; `Abort` is the other terminal state,
// comparable only through the rules in CanChangeStatus.
type Status string

const (
	StatusNone               Status = "none"
	StatusNeedsKYCData       Status = "needs_kyc_data"
	StatusNeedsRecipientSig  Status = "needs_recipient_signature"
	StatusSoftMatch          Status = "soft_match"
	StatusReadyForSettlement Status = "ready_for_settlement"
	StatusAbort              Status = "abort"
)

// StatusHeights gives the monotone lattice height for every non-abort
// status; Abort has no height and is handled by the absorbing/mutual-abort
// rules in CanChangeStatus instead.
var StatusHeights = map[Status]int{
	StatusNone:               0,
	StatusNeedsKYCData:       1,
	StatusNeedsRecipientSig:  2,
	StatusSoftMatch:          3,
	StatusReadyForSettlement: 4,
}

// StatusObject is the status slot carried by each PaymentActor.
type StatusObject struct {
	Status       Status `json:"status"`
	AbortCode    string `json:"abort_code,omitempty"`
	AbortMessage string `json:"abort_message,omitempty"`
}

// NewStatus builds a plain non-abort status object.
func NewStatus(s Status) StatusObject {
	return StatusObject{Status: s}
}

// NewAbort builds an abort status object carrying a business-supplied code
// and message.
func NewAbort(code, message string) StatusObject {
	return StatusObject{Status: StatusAbort, AbortCode: code, AbortMessage: message}
}

// CanChangeStatus implements spec.md §4.D's can_change_status rule: whether
// an actor (sender if actorIsSender, else receiver) may move from its
// current status to newSelf, given the counterparty's current status on the
// same payment.
func CanChangeStatus(p PaymentObject, newSelf Status, actorIsSender bool) bool {
	var oldSelf, other Status
	if actorIsSender {
		oldSelf = p.Sender.Status.Status
		other = p.Receiver.Status.Status
	} else {
		oldSelf = p.Receiver.Status.Status
		other = p.Sender.Status.Status
	}

	valid := true

	// If the other side aborts, self must abort.
	if other == StatusAbort {
		valid = valid && newSelf == StatusAbort
	}

	// Abort is absorbing: once aborted, self cannot change status.
	if oldSelf == StatusAbort {
		valid = valid && newSelf == oldSelf
	}

	// Mutual ready_for_settlement is frozen.
	if oldSelf == StatusReadyForSettlement && other == StatusReadyForSettlement {
		valid = valid && newSelf == oldSelf
	}

	// Once self is ready_for_settlement, only the peer's abort can move us,
	// and only to abort.
	if oldSelf == StatusReadyForSettlement && other != StatusAbort {
		valid = valid && newSelf == oldSelf
	}

	// Otherwise, height must be non-decreasing. Abort has no height entry so
	// this comparison only applies when newSelf is a lattice status; the
	// abort-specific rules above already cover every path that ends in abort.
	if newSelf != StatusAbort {
		valid = valid && StatusHeights[newSelf] >= StatusHeights[oldSelf]
	}

	return valid
}

// GoodInitialStatus implements spec.md §4.D's new-payment check: the side
// that did not create the payment must start at StatusNone.
func GoodInitialStatus(p PaymentObject, actorIsSender bool) bool {
	if actorIsSender {
		return p.Receiver.Status.Status == StatusNone
	}
	return p.Sender.Status.Status == StatusNone
}
