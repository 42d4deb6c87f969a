package processor

import (
	"context"

	"github.com/vasprail/offchain/internal/offchain/payment"
)

// WaitForOutcome registers a waiter for referenceID and blocks until the
// payment reaches a final state (ready_for_settlement on both sides, or
// abort on either), the associated command fails, or ctx is cancelled
// (spec.md §4.D "wait_for_payment_outcome"). Waiters are in-memory only and
// do not survive restart.
func (pp *PaymentProcessor) WaitForOutcome(ctx context.Context, referenceID string) (payment.PaymentObject, error) {
	ch := make(chan outcomeResult, 1)

	pp.mu.Lock()
	pp.outcomeWaiters[referenceID] = append(pp.outcomeWaiters[referenceID], ch)
	pp.mu.Unlock()

	// The payment may already be resolved by the time we register.
	if p, ok, err := pp.GetLatestByReferenceID(referenceID); err == nil && ok {
		pp.setPaymentOutcome(p)
	}

	select {
	case res := <-ch:
		return res.payment, res.err
	case <-ctx.Done():
		return payment.PaymentObject{}, ctx.Err()
	}
}

// setPaymentOutcome resolves every waiter on p's reference_id if p has
// reached a final state.
func (pp *PaymentProcessor) setPaymentOutcome(p payment.PaymentObject) {
	final := (p.Sender.Status.Status == payment.StatusReadyForSettlement &&
		p.Receiver.Status.Status == payment.StatusReadyForSettlement) ||
		p.Sender.Status.Status == payment.StatusAbort ||
		p.Receiver.Status.Status == payment.StatusAbort
	if !final {
		return
	}

	pp.mu.Lock()
	waiters := pp.outcomeWaiters[p.ReferenceID]
	delete(pp.outcomeWaiters, p.ReferenceID)
	pp.mu.Unlock()

	for _, ch := range waiters {
		ch <- outcomeResult{payment: p}
	}
}

// setPaymentOutcomeException resolves every waiter on referenceID with an
// error, e.g. when our own command failed or no progress could be made.
func (pp *PaymentProcessor) setPaymentOutcomeException(referenceID string, err error) {
	pp.mu.Lock()
	waiters := pp.outcomeWaiters[referenceID]
	delete(pp.outcomeWaiters, referenceID)
	pp.mu.Unlock()

	for _, ch := range waiters {
		ch <- outcomeResult{err: err}
	}
}
