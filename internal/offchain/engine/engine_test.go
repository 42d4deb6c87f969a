package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vasprail/offchain/internal/address"
	"github.com/vasprail/offchain/internal/envelope"
	"github.com/vasprail/offchain/internal/offchain"
	"github.com/vasprail/offchain/internal/offchain/payment"
	"github.com/vasprail/offchain/internal/storage"
)

// fakeBusiness determines its own role by comparing the payment's actor
// addresses against its own, so the same double works on either side of a
// channel. readyResult gates whether it ever reports ready_for_settlement,
// letting tests pin the exchange to a single deterministic round trip.
type fakeBusiness struct {
	me          address.Address
	readyResult bool
}

func (b *fakeBusiness) GetMyAddress() address.Address { return b.me }
func (b *fakeBusiness) IsSender(p payment.PaymentObject, ctx any) bool {
	return p.Sender.Address == b.me.String()
}
func (b *fakeBusiness) IsRecipient(p payment.PaymentObject, ctx any) bool {
	return p.Receiver.Address == b.me.String()
}
func (b *fakeBusiness) ValidateRecipientSignature(p payment.PaymentObject) error { return nil }
func (b *fakeBusiness) PaymentPreProcessing(ctx context.Context, other address.Address, cid string, cmd payment.Command, p payment.PaymentObject) (any, error) {
	return nil, nil
}
func (b *fakeBusiness) PaymentInitialProcessing(ctx context.Context, p payment.PaymentObject, bctx any) error {
	return nil
}
func (b *fakeBusiness) CheckAccountExistence(ctx context.Context, p payment.PaymentObject, bctx any) error {
	return nil
}
func (b *fakeBusiness) NextKYCLevelToRequest(ctx context.Context, p payment.PaymentObject, bctx any) (payment.Status, error) {
	return payment.StatusNone, nil
}
func (b *fakeBusiness) NextKYCToProvide(ctx context.Context, p payment.PaymentObject, bctx any) (map[payment.Status]bool, error) {
	return nil, nil
}
func (b *fakeBusiness) GetExtendedKYC(ctx context.Context, p payment.PaymentObject, bctx any) ([]byte, error) {
	return nil, nil
}
func (b *fakeBusiness) GetAdditionalKYC(ctx context.Context, p payment.PaymentObject, bctx any) ([]byte, error) {
	return nil, nil
}
func (b *fakeBusiness) GetRecipientSignature(ctx context.Context, p payment.PaymentObject, bctx any) (string, error) {
	return "", nil
}
func (b *fakeBusiness) ReadyForSettlement(ctx context.Context, p payment.PaymentObject, bctx any) (bool, error) {
	return b.readyResult, nil
}

// loopbackRegistry routes a test transport's Send calls directly into the
// recipient engine's HandleRequestBytes, standing in for a real network.
type loopbackRegistry struct {
	mu      sync.Mutex
	engines map[string]*Engine
}

func newLoopbackRegistry() *loopbackRegistry {
	return &loopbackRegistry{engines: make(map[string]*Engine)}
}

func (r *loopbackRegistry) register(addr address.Address, e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[addr.String()] = e
}

func (r *loopbackRegistry) lookup(addr address.Address) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engines[addr.String()]
}

// loopbackTransport is bound to one engine's own address at construction,
// matching how a real transport is configured with its local identity.
type loopbackTransport struct {
	from     address.Address
	registry *loopbackRegistry
}

func (t *loopbackTransport) Send(ctx context.Context, peer address.Address, envBytes []byte) ([]byte, error) {
	target := t.registry.lookup(peer)
	return target.HandleRequestBytes(ctx, t.from, envBytes)
}

func newTestAddr(t *testing.T, lastByte byte) address.Address {
	t.Helper()
	oc := make([]byte, 16)
	oc[15] = lastByte
	a, err := address.New("off", oc, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil {
		t.Fatalf("address.New: %v", err)
	}
	return a
}

// buildEngine wires one party's engine plus its signer/verifier for tests.
func buildEngine(t *testing.T, me address.Address, ready bool, registry *loopbackRegistry) (*Engine, envelope.Verifier) {
	t.Helper()
	st, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("storage.NewInMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	signer, verifier, err := envelope.GenerateSecp256k1Signer()
	if err != nil {
		t.Fatalf("GenerateSecp256k1Signer: %v", err)
	}

	e := New(Config{
		Me:        me,
		Store:     st,
		Business:  &fakeBusiness{me: me, readyResult: ready},
		Signer:    signer,
		Transport: &loopbackTransport{from: me, registry: registry},
	})
	registry.register(me, e)
	return e, verifier
}

func TestOriginatePaymentCommitsOnBothSidesInOneRoundTrip(t *testing.T) {
	addrA := newTestAddr(t, 0x10)
	addrB := newTestAddr(t, 0x21)
	registry := newLoopbackRegistry()

	// Neither side ever reports ready_for_settlement, so the recipient's
	// processing makes no further progress and emits no follow-up command —
	// pinning the exchange to exactly one request/response round trip.
	engineA, verifierA := buildEngine(t, addrA, false, registry)
	engineB, verifierB := buildEngine(t, addrB, false, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engineA.Run(ctx)
	go engineB.Run(ctx)

	if err := engineA.AddPeer(addrB, verifierB); err != nil {
		t.Fatalf("engineA.AddPeer: %v", err)
	}
	if err := engineB.AddPeer(addrA, verifierA); err != nil {
		t.Fatalf("engineB.AddPeer: %v", err)
	}

	refID := payment.NewReferenceID(addrA.String(), "tx1")
	p := payment.PaymentObject{
		Version:     "v1",
		ReferenceID: refID,
		Sender:      payment.PaymentActor{Address: addrA.String(), Status: payment.NewStatus(payment.StatusNone)},
		Receiver:    payment.PaymentActor{Address: addrB.String(), Status: payment.NewStatus(payment.StatusNone)},
	}

	if err := engineA.OriginatePayment(ctx, addrB, p); err != nil {
		t.Fatalf("OriginatePayment: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, okA, errA := engineA.Processor().GetLatestByReferenceID(refID)
		_, okB, errB := engineB.Processor().GetLatestByReferenceID(refID)
		if errA != nil {
			t.Fatalf("engineA GetLatestByReferenceID: %v", errA)
		}
		if errB != nil {
			t.Fatalf("engineB GetLatestByReferenceID: %v", errB)
		}
		if okA && okB {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the payment to commit on both sides (A=%v B=%v)", okA, okB)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAddPeerRejectsEqualEndpoints(t *testing.T) {
	addrA := newTestAddr(t, 0x10)
	registry := newLoopbackRegistry()
	engineA, _ := buildEngine(t, addrA, false, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engineA.Run(ctx)

	_, verifierA, err := envelope.GenerateSecp256k1Signer()
	if err != nil {
		t.Fatalf("GenerateSecp256k1Signer: %v", err)
	}

	if err := engineA.AddPeer(addrA, verifierA); err == nil {
		t.Fatal("expected AddPeer to reject a channel to oneself")
	}
}

// TestHandleRequestBytesRejectsBadSignatureWithSignedFailure exercises
// scenario 6: a peer sends bytes that don't verify against its registered
// key, and HandleRequestBytes must still answer with a signed `failure`
// response carrying invalid_signature, never a bare Go error.
func TestHandleRequestBytesRejectsBadSignatureWithSignedFailure(t *testing.T) {
	addrA := newTestAddr(t, 0x10)
	addrB := newTestAddr(t, 0x21)
	registry := newLoopbackRegistry()

	engineA, verifierA := buildEngine(t, addrA, false, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engineA.Run(ctx)

	// addrA registers some verifier for addrB, but the bytes below are
	// neither valid JSON nor signed by that (or any) key.
	_, verifierB, err := envelope.GenerateSecp256k1Signer()
	if err != nil {
		t.Fatalf("GenerateSecp256k1Signer: %v", err)
	}
	if err := engineA.AddPeer(addrB, verifierB); err != nil {
		t.Fatalf("engineA.AddPeer: %v", err)
	}

	respBytes, err := engineA.HandleRequestBytes(ctx, addrB, []byte("not a valid envelope"))
	if err != nil {
		t.Fatalf("HandleRequestBytes returned a bare error instead of a signed failure response: %v", err)
	}

	// The response must itself be a validly signed envelope, verifiable
	// against engineA's own key, carrying a failure/invalid_signature body.
	var resp offchain.CommandResponseObject
	if err := envelope.Unpack(verifierA, respBytes, &resp); err != nil {
		t.Fatalf("response envelope did not verify against the responder's own key: %v", err)
	}
	if resp.IsSuccess() {
		t.Fatal("expected a failure response, got success")
	}
	if resp.Error == nil || resp.Error.Code != offchain.ErrorInvalidSignature {
		t.Fatalf("expected error code %q, got %+v", offchain.ErrorInvalidSignature, resp.Error)
	}
}
