// Package business implements a reference offchain.Business: an in-memory
// stand-in for a VASP's compliance back-office that always approves account
// existence and recipient-signature checks, and escalates KYC one lattice
// level per round trip (SPEC_FULL.md §4.G), giving the daemon and
// integration tests something runnable without a real back-office
// integration.
package business

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vasprail/offchain/internal/address"
	"github.com/vasprail/offchain/internal/offchain"
	"github.com/vasprail/offchain/internal/offchain/payment"
	"github.com/vasprail/offchain/pkg/logging"
)

// KYCRecord is the canned compliance data a reference VASP attaches to a
// payment actor at each escalation level.
type KYCRecord struct {
	LegalName string `json:"legal_name"`
	Country   string `json:"country"`
}

// Reference is a demo offchain.Business: one per local party, holding no
// real back-office state beyond a canned KYC record and an optional
// per-reference-id force-abort hook for exercising scenario 2 (peer
// force-abort) in integration tests.
type Reference struct {
	me     address.Address
	record KYCRecord
	log    *logging.Logger

	mu         sync.Mutex
	forceAbort map[string]*offchain.BusinessForceAbort
}

// New returns a Reference business bound to me, attaching record to every
// payment this party originates or responds to.
func New(me address.Address, record KYCRecord) *Reference {
	return &Reference{
		me:         me,
		record:     record,
		log:        logging.GetDefault().Component("business"),
		forceAbort: make(map[string]*offchain.BusinessForceAbort),
	}
}

// SetForceAbort arranges for the next PaymentInitialProcessing call on
// referenceID to abort with code/message, then clears itself — matching
// spec.md §8 scenario 2's single injected force-abort.
func (r *Reference) SetForceAbort(referenceID, code, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forceAbort[referenceID] = &offchain.BusinessForceAbort{Code: code, Message: message}
}

func (r *Reference) takeForceAbort(referenceID string) *offchain.BusinessForceAbort {
	r.mu.Lock()
	defer r.mu.Unlock()
	abort, ok := r.forceAbort[referenceID]
	if ok {
		delete(r.forceAbort, referenceID)
	}
	return abort
}

// GetMyAddress implements offchain.Business.
func (r *Reference) GetMyAddress() address.Address { return r.me }

// IsSender implements offchain.Business.
func (r *Reference) IsSender(p payment.PaymentObject, _ any) bool {
	return p.Sender.Address == r.me.String()
}

// IsRecipient implements offchain.Business.
func (r *Reference) IsRecipient(p payment.PaymentObject, _ any) bool {
	return p.Receiver.Address == r.me.String()
}

// ValidateRecipientSignature always approves: a real VASP would check the
// recipient's signature against its own signing key here.
func (r *Reference) ValidateRecipientSignature(p payment.PaymentObject) error {
	return nil
}

// PaymentPreProcessing builds no business context beyond nil; a real VASP
// would load the customer record matching cmd.Payment's local actor here.
func (r *Reference) PaymentPreProcessing(ctx context.Context, other address.Address, cid string, cmd payment.Command, p payment.PaymentObject) (any, error) {
	return nil, nil
}

// PaymentInitialProcessing is the one hook invoked unconditionally at the
// top of every processing round, making it the natural place to fire an
// injected force-abort for a given reference_id.
func (r *Reference) PaymentInitialProcessing(ctx context.Context, p payment.PaymentObject, bctx any) error {
	if abort := r.takeForceAbort(p.ReferenceID); abort != nil {
		return abort
	}
	return nil
}

// CheckAccountExistence always approves: a real VASP would look up the
// account behind the payment's own actor here.
func (r *Reference) CheckAccountExistence(ctx context.Context, p payment.PaymentObject, bctx any) error {
	return nil
}

// ownActor returns the local party's actor within p.
func (r *Reference) ownActor(p payment.PaymentObject) payment.PaymentActor {
	if r.IsSender(p, nil) {
		return p.Sender
	}
	return p.Receiver
}

// nextLevel returns the next rung in the KYC escalation lattice above self,
// or StatusNone if self has nothing further to request (the sentinel
// processPayment treats as "no advance").
func nextLevel(self payment.Status) payment.Status {
	switch self {
	case payment.StatusNone:
		return payment.StatusNeedsKYCData
	case payment.StatusNeedsKYCData:
		return payment.StatusSoftMatch
	case payment.StatusSoftMatch:
		return payment.StatusReadyForSettlement
	default:
		return payment.StatusNone
	}
}

// NextKYCLevelToRequest escalates by exactly one lattice rung per round
// trip (SPEC_FULL.md §4.G).
func (r *Reference) NextKYCLevelToRequest(ctx context.Context, p payment.PaymentObject, bctx any) (payment.Status, error) {
	return nextLevel(r.ownActor(p).Status.Status), nil
}

// NextKYCToProvide reports which data this round's escalation requires us
// to attach, mirroring the same level decision NextKYCLevelToRequest made.
func (r *Reference) NextKYCToProvide(ctx context.Context, p payment.PaymentObject, bctx any) (map[payment.Status]bool, error) {
	next := nextLevel(r.ownActor(p).Status.Status)
	provide := make(map[payment.Status]bool)
	switch next {
	case payment.StatusNeedsKYCData:
		provide[payment.StatusNeedsKYCData] = true
	case payment.StatusSoftMatch:
		provide[payment.StatusSoftMatch] = true
	case payment.StatusReadyForSettlement:
		if r.IsRecipient(p, bctx) {
			provide[payment.StatusNeedsRecipientSig] = true
		}
	}
	return provide, nil
}

// GetExtendedKYC returns the canned KYC record as JSON.
func (r *Reference) GetExtendedKYC(ctx context.Context, p payment.PaymentObject, bctx any) ([]byte, error) {
	return json.Marshal(r.record)
}

// GetAdditionalKYC returns a canned soft-match clarification.
func (r *Reference) GetAdditionalKYC(ctx context.Context, p payment.PaymentObject, bctx any) ([]byte, error) {
	return json.Marshal(map[string]string{"clarification": fmt.Sprintf("%s matches on file", r.record.LegalName)})
}

// GetRecipientSignature returns a canned placeholder signature; a real VASP
// would sign the payment's reference_id and version with the recipient's
// settlement key here.
func (r *Reference) GetRecipientSignature(ctx context.Context, p payment.PaymentObject, bctx any) (string, error) {
	return "demo-signature:" + p.Version, nil
}

// ReadyForSettlement reports readiness when the next rung of our own
// escalation is ready_for_settlement, i.e. while our actor is at
// soft_match; at any other status, ready_for_settlement included, it
// reports false.
func (r *Reference) ReadyForSettlement(ctx context.Context, p payment.PaymentObject, bctx any) (bool, error) {
	return nextLevel(r.ownActor(p).Status.Status) == payment.StatusReadyForSettlement, nil
}
