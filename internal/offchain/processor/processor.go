// Package processor implements the payment-logic command processor: the
// command-check hook the channel invokes before commit, and the
// commit-notification callbacks that drive payment_process_async forward
// (spec.md §4.D).
package processor

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vasprail/offchain/internal/address"
	"github.com/vasprail/offchain/internal/offchain"
	"github.com/vasprail/offchain/internal/offchain/payment"
	"github.com/vasprail/offchain/internal/storage"
	"github.com/vasprail/offchain/pkg/logging"
)

// Emitter lets the processor hand a locally-produced follow-up command back
// to the engine for sequencing and transport, without importing the engine
// package (which in turn drives channels and this processor).
type Emitter interface {
	SequenceAndSend(ctx context.Context, other address.Address, cmd payment.Command) error
}

// outcomeResult is delivered to a WaitForOutcome caller once a payment
// reaches a final state, or if processing it failed.
type outcomeResult struct {
	payment payment.PaymentObject
	err     error
}

// PaymentProcessor owns the object_store and reference_id_index, globally
// across every channel of the local party (spec.md §6's processor/*
// namespace). It implements channel.Processor structurally.
type PaymentProcessor struct {
	business offchain.Business
	log      *logging.Logger

	objectStore      *storage.Dict[payment.PaymentObject]
	referenceIDIndex *storage.Dict[string]

	emitter Emitter

	mu             sync.Mutex
	outcomeWaiters map[string][]chan outcomeResult
}

// New builds a PaymentProcessor. SetEmitter must be called once the owning
// engine exists, before any command is processed — the two are mutually
// referential and cannot both be constructed first.
func New(business offchain.Business, objectStore *storage.Dict[payment.PaymentObject], referenceIDIndex *storage.Dict[string], log *logging.Logger) *PaymentProcessor {
	if log == nil {
		log = logging.Default()
	}
	return &PaymentProcessor{
		business:         business,
		log:              log,
		objectStore:      objectStore,
		referenceIDIndex: referenceIDIndex,
		outcomeWaiters:   make(map[string][]chan outcomeResult),
	}
}

// SetEmitter wires the engine that will carry follow-up commands to the wire.
func (pp *PaymentProcessor) SetEmitter(e Emitter) {
	pp.emitter = e
}

// GetLatestByReferenceID returns the most recently committed payment version
// for a reference_id, if any command touching it has committed.
func (pp *PaymentProcessor) GetLatestByReferenceID(referenceID string) (payment.PaymentObject, bool, error) {
	version, ok, err := pp.referenceIDIndex.TryGet(referenceID)
	if err != nil || !ok {
		return payment.PaymentObject{}, ok, err
	}
	return pp.objectStore.Get(version)
}

// GetPaymentHistoryByReferenceID returns the latest payment for referenceID
// plus, if present, its one direct predecessor (payment.History).
func (pp *PaymentProcessor) GetPaymentHistoryByReferenceID(referenceID string) ([]payment.PaymentObject, error) {
	version, ok, err := pp.referenceIDIndex.TryGet(referenceID)
	if err != nil || !ok {
		return nil, err
	}
	return payment.History(objectStoreAdapter{pp.objectStore}, version)
}

// objectStoreAdapter satisfies payment.ObjectStore over the processor's
// concrete persistent dict.
type objectStoreAdapter struct {
	d *storage.Dict[payment.PaymentObject]
}

func (a objectStoreAdapter) Get(version string) (payment.PaymentObject, bool, error) {
	return a.d.TryGet(version)
}

// CheckCommand implements channel.Processor (spec.md §4.D "check_command").
func (pp *PaymentProcessor) CheckCommand(myAddr, otherAddr address.Address, cmd payment.Command) error {
	newPayment := cmd.Payment

	parties := map[string]bool{newPayment.Sender.Address: true, newPayment.Receiver.Address: true}
	needed := map[string]bool{myAddr.String(): true, otherAddr.String(): true}
	if !sameStringSet(parties, needed) {
		return offchain.NewPaymentLogicError(offchain.ErrorPaymentWrongActor,
			"wrong parties: expected %v, got %v", setKeys(needed), setKeys(parties))
	}

	if !parties[cmd.Origin] {
		return offchain.NewPaymentLogicError(offchain.ErrorPaymentWrongActor,
			"command originates from %q, not a channel party", cmd.Origin)
	}

	// Only the commands we receive from the peer need checking; our own
	// commands were already validated when we built them.
	if cmd.Origin != otherAddr.String() {
		return nil
	}

	if cmd.IsNewPayment() {
		origin, ok := payment.ParseReferenceID(newPayment.ReferenceID)
		if !ok || origin != cmd.Origin {
			return offchain.NewPaymentLogicError(offchain.ErrorPaymentWrongStructure,
				"expected reference_id of the form %s_XYZ, got %q", cmd.Origin, newPayment.ReferenceID)
		}
		return pp.checkNewPayment(newPayment)
	}

	// spec.md's reads_version_map/writes_version_map equality check covers
	// every entry, not just index 0: a command touching several reference
	// ids at once must still agree on a single one throughout.
	refID := newPayment.ReferenceID
	for _, ref := range cmd.ReadsVersionMap {
		if ref.ReferenceID != refID {
			return offchain.NewPaymentLogicError(offchain.ErrorPaymentWrongStructure,
				"reference_id must not change, got %q and %q", ref.ReferenceID, refID)
		}
	}
	for _, ref := range cmd.WritesVersionMap {
		if ref.ReferenceID != refID {
			return offchain.NewPaymentLogicError(offchain.ErrorPaymentWrongStructure,
				"reference_id must not change, got %q and %q", refID, ref.ReferenceID)
		}
	}

	oldVersion, _ := cmd.PreviousVersion()
	oldPayment, ok, err := pp.objectStore.TryGet(oldVersion)
	if err != nil {
		return err
	}
	if !ok {
		return offchain.NewException("missing previous version %q already passed the channel's dependency check", oldVersion)
	}
	return pp.checkNewUpdate(oldPayment, newPayment)
}

// Success implements channel.Processor: it fires after a command commits,
// whether via a live exchange or startup replay (spec.md §4.D
// "process_command_success").
func (pp *PaymentProcessor) Success(ctx context.Context, other address.Address, cmd payment.Command) {
	pp.setPaymentOutcome(cmd.Payment)

	bctx, err := pp.business.PaymentPreProcessing(ctx, other, cmd.CID, cmd, cmd.Payment)
	if err != nil {
		pp.log.Error("payment pre-processing failed", "other", other.String(), "cid", cmd.CID, "err", err)
		return
	}

	// Only the peer's commands are our cue to make progress.
	if cmd.Origin != other.String() {
		return
	}

	newPayment, err := pp.processPayment(ctx, cmd.Payment, bctx)
	if err != nil {
		pp.log.Error("payment processing error", "other", other.String(), "cid", cmd.CID, "err", err)
		return
	}

	if !newPayment.HasChanged(cmd.Payment) {
		pp.setPaymentOutcomeException(cmd.Payment.ReferenceID, &offchain.PaymentProcessorNoProgress{})
		return
	}

	newCmd := payment.NewCommand(uuid.NewString(), pp.business.GetMyAddress().String(), newPayment)
	if err := pp.emitter.SequenceAndSend(ctx, other, newCmd); err != nil {
		pp.log.Warn("network error sending follow-up command", "other", other.String(), "err", err)
	}
}

// Failure implements channel.Processor: it fires when a locally-originated
// command is rejected by the peer (spec.md §4.D
// "process_command_failure").
func (pp *PaymentProcessor) Failure(ctx context.Context, other address.Address, cmd payment.Command, cmdErr error) {
	if cmd.Origin == other.String() {
		// The peer's own command failed on our side; nothing for us to
		// resolve — we never registered an outcome waiter for it.
		pp.log.Error("peer command rejected", "other", other.String(), "cid", cmd.CID, "err", cmdErr)
		return
	}

	pp.log.Error("our command rejected by peer", "other", other.String(), "cid", cmd.CID, "err", cmdErr)
	pp.setPaymentOutcomeException(cmd.Payment.ReferenceID, &offchain.PaymentProcessorRemoteError{Err: cmdErr})
}

func sameStringSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func setKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
