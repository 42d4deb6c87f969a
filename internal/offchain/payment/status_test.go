package payment

import "testing"

func mkPayment(senderStatus, receiverStatus Status) PaymentObject {
	return PaymentObject{
		Sender:   PaymentActor{Status: NewStatus(senderStatus)},
		Receiver: PaymentActor{Status: NewStatus(receiverStatus)},
	}
}

func TestCanChangeStatusMonotone(t *testing.T) {
	p := mkPayment(StatusNone, StatusNone)
	if !CanChangeStatus(p, StatusNeedsKYCData, true) {
		t.Fatal("expected progress none -> needs_kyc_data to be valid")
	}
	if CanChangeStatus(p, StatusNone, true) == false {
		// staying put is also height non-decreasing
		t.Fatal("expected staying at none to be valid")
	}
}

func TestCanChangeStatusRejectsRegression(t *testing.T) {
	p := mkPayment(StatusSoftMatch, StatusNone)
	if CanChangeStatus(p, StatusNeedsKYCData, true) {
		t.Fatal("expected regression soft_match -> needs_kyc_data to be rejected")
	}
}

func TestCanChangeStatusFollowsPeerAbort(t *testing.T) {
	p := mkPayment(StatusSoftMatch, StatusAbort)
	if !CanChangeStatus(p, StatusAbort, true) {
		t.Fatal("expected self to be allowed to abort when peer aborted")
	}
	if CanChangeStatus(p, StatusReadyForSettlement, true) {
		t.Fatal("expected self to be forced to abort, not progress, when peer aborted")
	}
}

func TestCanChangeStatusAbortIsAbsorbing(t *testing.T) {
	p := mkPayment(StatusAbort, StatusNone)
	if CanChangeStatus(p, StatusReadyForSettlement, true) {
		t.Fatal("expected aborted self to be unable to change status")
	}
	if !CanChangeStatus(p, StatusAbort, true) {
		t.Fatal("expected aborted self to stay aborted")
	}
}

func TestCanChangeStatusMutualReadyFrozen(t *testing.T) {
	p := mkPayment(StatusReadyForSettlement, StatusReadyForSettlement)
	if CanChangeStatus(p, StatusAbort, true) {
		t.Fatal("expected mutual ready_for_settlement to freeze self, even to abort")
	}
}

func TestCanChangeStatusReadyOnlyReleasedByPeerAbort(t *testing.T) {
	p := mkPayment(StatusReadyForSettlement, StatusSoftMatch)
	if CanChangeStatus(p, StatusReadyForSettlement+"-nope", true) {
		t.Fatal("sanity: unrelated status must not validate")
	}
	if CanChangeStatus(p, StatusAbort, true) {
		t.Fatal("expected self to be frozen at ready_for_settlement while peer has not aborted")
	}
	if !CanChangeStatus(p, StatusReadyForSettlement, true) {
		t.Fatal("expected self to stay at ready_for_settlement while peer has not aborted")
	}
}

func TestGoodInitialStatus(t *testing.T) {
	p := mkPayment(StatusNone, StatusNone)
	if !GoodInitialStatus(p, true) {
		t.Fatal("expected sender-created payment with receiver at none to be valid")
	}
	p2 := mkPayment(StatusNone, StatusNeedsKYCData)
	if GoodInitialStatus(p2, true) {
		t.Fatal("expected receiver status != none to be invalid for a sender-created payment")
	}
}

func TestReferenceIDParsing(t *testing.T) {
	origin, ok := ParseReferenceID("party_a_1")
	if !ok || origin != "party" {
		t.Fatalf("got origin=%q ok=%v", origin, ok)
	}
	if _, ok := ParseReferenceID("noUnderscore"); ok {
		t.Fatal("expected malformed reference_id to be rejected")
	}
}
