package processor

import (
	"github.com/vasprail/offchain/internal/address"
	"github.com/vasprail/offchain/internal/offchain"
	"github.com/vasprail/offchain/internal/offchain/payment"
)

// checkNewPayment validates a command introducing a brand-new payment from
// the peer (spec.md §4.D "new-payment checks").
func (pp *PaymentProcessor) checkNewPayment(p payment.PaymentObject) error {
	isRecipient := pp.business.IsRecipient(p, nil)

	// The side that did not create the payment must still be at StatusNone.
	// Passing isRecipient as the actorIsSender flag checks the correct
	// actor: if we are the recipient, the command's creator (the peer) is
	// sender, so we check OUR (receiver) status is none, and vice versa.
	if !payment.GoodInitialStatus(p, isRecipient) {
		return offchain.NewPaymentLogicError(offchain.ErrorPaymentWrongStatus,
			"sender set receiver status or vice-versa")
	}

	senderAddr, err := address.FromEncodedString(p.Sender.Address)
	if err != nil {
		return offchain.NewPaymentLogicError(offchain.ErrorPaymentInvalidAddress, "sender address: %v", err)
	}
	receiverAddr, err := address.FromEncodedString(p.Receiver.Address)
	if err != nil {
		return offchain.NewPaymentLogicError(offchain.ErrorPaymentInvalidAddress, "receiver address: %v", err)
	}
	if !senderAddr.HasSubaddress() {
		return offchain.NewPaymentLogicError(offchain.ErrorPaymentInvalidSubaddress,
			"sender address needs a subaddress, got %q", p.Sender.Address)
	}
	if !receiverAddr.HasSubaddress() {
		return offchain.NewPaymentLogicError(offchain.ErrorPaymentInvalidSubaddress,
			"receiver address needs a subaddress, got %q", p.Receiver.Address)
	}

	return pp.checkSignatures(p, !isRecipient)
}

// checkNewUpdate validates a command updating an existing payment
// (spec.md §4.D "update checks").
func (pp *PaymentProcessor) checkNewUpdate(old, next payment.PaymentObject) error {
	isRecipient := pp.business.IsRecipient(next, nil)
	isSender := !isRecipient

	if !old.Actor(isSender).Equal(next.Actor(isSender)) {
		role := "sender"
		if !isSender {
			role = "receiver"
		}
		return offchain.NewPaymentLogicError(offchain.ErrorPaymentChangedOtherActor, "cannot change %s information", role)
	}

	// isRecipient, used as the actorIsSender flag below, selects the PEER's
	// role: if we are the recipient the peer is the sender, and vice-versa.
	peerStatusNew := next.Actor(isRecipient).Status.Status
	if !payment.CanChangeStatus(old, peerStatusNew, isRecipient) {
		peerStatusOld := old.Actor(isRecipient).Status.Status
		return offchain.NewPaymentLogicError(offchain.ErrorPaymentWrongStatus,
			"invalid status transition: %s -> %s", peerStatusOld, peerStatusNew)
	}

	return pp.checkSignatures(next, isSender)
}

// checkSignatures validates the recipient signature, if present, when the
// local party is the sender (spec.md §4.D).
func (pp *PaymentProcessor) checkSignatures(p payment.PaymentObject, isSender bool) error {
	if isSender && p.RecipientSignature != "" {
		if err := pp.business.ValidateRecipientSignature(p); err != nil {
			return offchain.NewPaymentLogicError(offchain.ErrorPaymentWrongRecipientSig, "recipient signature check failed: %v", err)
		}
	}
	return nil
}
