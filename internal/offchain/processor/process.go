package processor

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/vasprail/offchain/internal/offchain"
	"github.com/vasprail/offchain/internal/offchain/payment"
)

// errNoFurtherProcessing signals the short-circuit path of processPayment:
// the payment is already terminal, so the new version is returned verbatim
// with no status change and no command should be emitted for it.
var errNoFurtherProcessing = errors.New("processor: payment already terminal")

// processPayment implements spec.md §4.D's payment_process_async: it always
// returns a new payment version, possibly unchanged (a no-op signal), and
// advances our own actor's status as far as business logic allows.
func (pp *PaymentProcessor) processPayment(ctx context.Context, p payment.PaymentObject, bctx any) (payment.PaymentObject, error) {
	isRecipient := pp.business.IsRecipient(p, bctx)
	isSender := !isRecipient

	self := p.Actor(isSender).Status.Status
	current := self
	other := p.Actor(isRecipient).Status.Status

	newPayment := p.NewVersion(uuid.NewString())

	var abortCode, abortMsg string

	err := func() error {
		if err := pp.business.PaymentInitialProcessing(ctx, p, bctx); err != nil {
			return err
		}

		if self == payment.StatusAbort ||
			(self == payment.StatusReadyForSettlement && other == payment.StatusReadyForSettlement) {
			return errNoFurtherProcessing
		}

		if other == payment.StatusAbort {
			current = payment.StatusAbort
			abortCode = "FOLLOW"
			abortMsg = "Follows the abort from the other side."
		}

		if current == payment.StatusNone {
			if err := pp.business.CheckAccountExistence(ctx, newPayment, bctx); err != nil {
				return err
			}
		}

		if isProgressEligible(current) {
			nextKYC, err := pp.business.NextKYCLevelToRequest(ctx, newPayment, bctx)
			if err != nil {
				return err
			}
			if nextKYC != payment.StatusNone {
				current = nextKYC
			}
		}

		kycToProvide, err := pp.business.NextKYCToProvide(ctx, newPayment, bctx)
		if err != nil {
			return err
		}

		actor := newPayment.Actor(isSender)
		if kycToProvide[payment.StatusNeedsKYCData] {
			data, err := pp.business.GetExtendedKYC(ctx, newPayment, bctx)
			if err != nil {
				return err
			}
			actor.KYCData = data
		}
		if kycToProvide[payment.StatusSoftMatch] {
			data, err := pp.business.GetAdditionalKYC(ctx, newPayment, bctx)
			if err != nil {
				return err
			}
			actor.AdditionalKYCData = data
		}
		newPayment = newPayment.WithActor(isSender, actor)

		if kycToProvide[payment.StatusNeedsRecipientSig] {
			sig, err := pp.business.GetRecipientSignature(ctx, newPayment, bctx)
			if err != nil {
				return err
			}
			newPayment.RecipientSignature = sig
		}

		if current != payment.StatusReadyForSettlement && current != payment.StatusAbort {
			ready, err := pp.business.ReadyForSettlement(ctx, newPayment, bctx)
			if err != nil {
				return err
			}
			if ready {
				current = payment.StatusReadyForSettlement
			}
		}
		return nil
	}()

	switch {
	case errors.Is(err, errNoFurtherProcessing):
		return newPayment, nil

	case err == nil:
		// fall through to the consistency check below

	default:
		var forceAbort *offchain.BusinessForceAbort
		if errors.As(err, &forceAbort) {
			newPayment = p.NewVersion(newPayment.Version)
			current = payment.StatusAbort
			abortCode = forceAbort.Code
			abortMsg = forceAbort.Message
		} else {
			errRef := uuid.NewString()
			pp.log.Error("unexpected business error while processing payment", "reference_id", p.ReferenceID, "error_ref", errRef, "err", err)
			newPayment = p.NewVersion(newPayment.Version)
			current = payment.StatusAbort
			abortCode = string(offchain.ErrorPaymentVASPError)
			abortMsg = "unexpected business error, ref " + errRef
		}
	}

	if !payment.CanChangeStatus(p, current, isSender) {
		return payment.PaymentObject{}, offchain.NewException(
			"invalid status transition processing payment %s: (%s, %s) -> %s",
			p.Version, p.Sender.Status.Status, p.Receiver.Status.Status, current)
	}

	var status payment.StatusObject
	if current == payment.StatusAbort {
		status = payment.NewAbort(abortCode, abortMsg)
	} else {
		status = payment.NewStatus(current)
	}

	actor := newPayment.Actor(isSender)
	actor.Status = status
	newPayment = newPayment.WithActor(isSender, actor)

	return newPayment, nil
}

func isProgressEligible(s payment.Status) bool {
	switch s {
	case payment.StatusNone, payment.StatusNeedsKYCData, payment.StatusNeedsRecipientSig, payment.StatusSoftMatch:
		return true
	default:
		return false
	}
}
