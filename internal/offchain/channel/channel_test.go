package channel

import (
	"context"
	"testing"

	"github.com/vasprail/offchain/internal/address"
	"github.com/vasprail/offchain/internal/offchain"
	"github.com/vasprail/offchain/internal/offchain/payment"
	"github.com/vasprail/offchain/internal/storage"
)

// recordingProcessor is a test double for Processor: CheckCommand always
// accepts, Success/Failure append to slices for assertion.
type recordingProcessor struct {
	checkErr  error
	succeeded []payment.Command
	failed    []payment.Command
}

func (p *recordingProcessor) CheckCommand(myAddr, otherAddr address.Address, cmd payment.Command) error {
	return p.checkErr
}

func (p *recordingProcessor) Success(ctx context.Context, other address.Address, cmd payment.Command) {
	p.succeeded = append(p.succeeded, cmd)
}

func (p *recordingProcessor) Failure(ctx context.Context, other address.Address, cmd payment.Command, err error) {
	p.failed = append(p.failed, cmd)
}

func newTestAddress(t *testing.T, lastByte byte) address.Address {
	t.Helper()
	oc := make([]byte, 16)
	oc[15] = lastByte
	a, err := address.New("off", oc, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil {
		t.Fatalf("address.New: %v", err)
	}
	return a
}

type harness struct {
	store            *storage.Storage
	root             *storage.Dir
	objectStore      *storage.Dict[payment.PaymentObject]
	referenceIDIndex *storage.Dict[string]
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("storage.NewInMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	root := storage.NewRootDir("test-root")
	procDir := root.Sub("processor")
	return &harness{
		store:            st,
		root:             root,
		objectStore:      storage.NewDict[payment.PaymentObject](st, "object_store", procDir),
		referenceIDIndex: storage.NewDict[string](st, "reference_id_index", procDir),
	}
}

func (h *harness) newChannel(t *testing.T, me, other address.Address, proc Processor) *Channel {
	t.Helper()
	ch, err := New(h.store, h.root, me, other, h.objectStore, h.referenceIDIndex, proc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ch
}

func newPaymentCommand(cid, origin, refID, version string) payment.Command {
	p := payment.PaymentObject{
		Version:     version,
		ReferenceID: refID,
		Sender:      payment.PaymentActor{Address: "sender-addr"},
		Receiver:    payment.PaymentActor{Address: "receiver-addr"},
	}
	return payment.NewCommand(cid, origin, p)
}

func TestSequenceCommandLocalLocksAndPends(t *testing.T) {
	h := newHarness(t)
	me := newTestAddress(t, 0x10)
	other := newTestAddress(t, 0x21)
	proc := &recordingProcessor{}
	ch := h.newChannel(t, me, other, proc)

	cmd := newPaymentCommand("cid-1", me.String(), "ref_1", "v1")
	req, err := ch.SequenceCommandLocal(cmd)
	if err != nil {
		t.Fatalf("SequenceCommandLocal: %v", err)
	}
	if req.CID != "cid-1" {
		t.Fatalf("unexpected cid in request: %q", req.CID)
	}

	would, err := ch.WouldRetransmit()
	if err != nil || !would {
		t.Fatalf("expected a pending retransmit, err=%v would=%v", err, would)
	}
}

func TestParseHandleRequestIdempotentRetransmit(t *testing.T) {
	h := newHarness(t)
	me := newTestAddress(t, 0x10)
	other := newTestAddress(t, 0x21)
	proc := &recordingProcessor{}
	ch := h.newChannel(t, me, other, proc)
	ctx := context.Background()

	cmd := newPaymentCommand("cid-1", other.String(), "ref_1", "v1")
	req := offchain.CommandRequestObject{CID: cmd.CID, Command: cmd}

	resp1, err := ch.ParseHandleRequest(ctx, req)
	if err != nil {
		t.Fatalf("ParseHandleRequest: %v", err)
	}
	if !resp1.IsSuccess() {
		t.Fatalf("expected success, got %+v", resp1)
	}

	resp2, err := ch.ParseHandleRequest(ctx, req)
	if err != nil {
		t.Fatalf("ParseHandleRequest retransmit: %v", err)
	}
	if resp1 != resp2 {
		t.Fatalf("retransmitted response must be byte-identical: %+v vs %+v", resp1, resp2)
	}

	if len(proc.succeeded) != 1 {
		t.Fatalf("expected exactly one Success callback, got %d", len(proc.succeeded))
	}
}

func TestParseHandleRequestMissingDependency(t *testing.T) {
	h := newHarness(t)
	me := newTestAddress(t, 0x10)
	other := newTestAddress(t, 0x21)
	proc := &recordingProcessor{}
	ch := h.newChannel(t, me, other, proc)
	ctx := context.Background()

	p := payment.PaymentObject{Version: "v2", PreviousVersion: "v1", ReferenceID: "ref_1"}
	cmd := payment.NewCommand("cid-2", other.String(), p)
	req := offchain.CommandRequestObject{CID: cmd.CID, Command: cmd}

	resp, err := ch.ParseHandleRequest(ctx, req)
	if err != nil {
		t.Fatalf("ParseHandleRequest: %v", err)
	}
	if resp.IsSuccess() || resp.Error.Code != offchain.ErrorMissingDependencies {
		t.Fatalf("expected missing_dependencies failure, got %+v", resp)
	}
}

func TestParseHandleRequestTieBreakServerWins(t *testing.T) {
	h := newHarness(t)
	a := newTestAddress(t, 0x10) // last bit 0
	b := newTestAddress(t, 0x21) // last bit 1 -> xor 1 -> larger (b) is server
	procA := &recordingProcessor{}
	procB := &recordingProcessor{}
	chA := h.newChannel(t, a, b, procA)
	chB := h.newChannel(t, b, a, procB)
	ctx := context.Background()

	if chA.Role() == RoleServer {
		t.Fatalf("expected a to be client in this fixture")
	}
	if chB.Role() != RoleServer {
		t.Fatalf("expected b to be server in this fixture")
	}

	// Both commands below read the same already-written version v1, so
	// the peer's request hits the lock-conflict path.
	base := payment.PaymentObject{Version: "v1", ReferenceID: "ref_1"}
	if err := chA.objectStore.Put("v1", base); err != nil {
		t.Fatalf("seed object store: %v", err)
	}
	if err := chA.objectLocks.Put("v1", LockAvailable); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	localCmd := payment.NewCommand("cid-local", a.String(), base.NewVersion("v2"))
	if _, err := chA.SequenceCommandLocal(localCmd); err != nil {
		t.Fatalf("SequenceCommandLocal: %v", err)
	}

	peerCmd := payment.NewCommand("cid-peer", b.String(), base.NewVersion("v3"))
	req := offchain.CommandRequestObject{CID: peerCmd.CID, Command: peerCmd}

	resp, err := chA.ParseHandleRequest(ctx, req)
	if err != nil {
		t.Fatalf("ParseHandleRequest: %v", err)
	}
	// chA is client (loser): it must evict its own pending command and
	// accept the peer's.
	if !resp.IsSuccess() {
		t.Fatalf("expected client side to accept peer's command, got %+v", resp)
	}
	would, err := chA.WouldRetransmit()
	if err != nil {
		t.Fatalf("WouldRetransmit: %v", err)
	}
	if would {
		t.Fatalf("evicted local command must no longer be pending")
	}
}

func TestParseHandleResponseSpurious(t *testing.T) {
	h := newHarness(t)
	me := newTestAddress(t, 0x10)
	other := newTestAddress(t, 0x21)
	proc := &recordingProcessor{}
	ch := h.newChannel(t, me, other, proc)
	ctx := context.Background()

	_, err := ch.ParseHandleResponse(ctx, offchain.Success("unknown-cid"))
	if err == nil {
		t.Fatal("expected an error for a response to an unknown cid")
	}
}

func TestParseHandleResponseFailureRevertsLocks(t *testing.T) {
	h := newHarness(t)
	me := newTestAddress(t, 0x10)
	other := newTestAddress(t, 0x21)
	proc := &recordingProcessor{}
	ch := h.newChannel(t, me, other, proc)
	ctx := context.Background()

	base := payment.PaymentObject{Version: "v0", ReferenceID: "ref_1"}
	if err := h.objectStore.Put("v0", base); err != nil {
		t.Fatalf("seed object store: %v", err)
	}
	cmd := payment.NewCommand("cid-1", me.String(), base.NewVersion("v1"))
	if _, err := ch.SequenceCommandLocal(cmd); err != nil {
		t.Fatalf("SequenceCommandLocal: %v", err)
	}

	committed, err := ch.ParseHandleResponse(ctx, offchain.Failure("cid-1", offchain.ErrorConflict, "nope"))
	if committed {
		t.Fatalf("a failure response must not report as newly committed")
	}
	if err == nil {
		t.Fatal("expected an OffChainProtocolError")
	}
	if len(proc.failed) != 1 {
		t.Fatalf("expected Failure callback once, got %d", len(proc.failed))
	}
	would, err := ch.WouldRetransmit()
	if err != nil || would {
		t.Fatalf("failed command must be removed from pending, would=%v err=%v", would, err)
	}
	lock, ok, err := ch.objectLocks.TryGet("v0")
	if err != nil || !ok || lock != LockAvailable {
		t.Fatalf("expected read lock on v0 reverted to AVAILABLE, got %q ok=%v err=%v", lock, ok, err)
	}
}

func TestReplayDrivesSuccessCallbackInOrder(t *testing.T) {
	h := newHarness(t)
	me := newTestAddress(t, 0x10)
	other := newTestAddress(t, 0x21)
	proc := &recordingProcessor{}
	ch := h.newChannel(t, me, other, proc)
	ctx := context.Background()

	for i, cid := range []string{"cid-1", "cid-2", "cid-3"} {
		cmd := newPaymentCommand(cid, other.String(), "ref_1", "v"+string(rune('1'+i)))
		req := offchain.CommandRequestObject{CID: cmd.CID, Command: cmd}
		if _, err := ch.ParseHandleRequest(ctx, req); err != nil {
			t.Fatalf("ParseHandleRequest %s: %v", cid, err)
		}
	}

	replayed := &recordingProcessor{}
	ch2 := h.newChannel(t, me, other, replayed)
	if err := ch2.Replay(ctx); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(replayed.succeeded) != 3 {
		t.Fatalf("expected 3 replayed successes, got %d", len(replayed.succeeded))
	}
	for i, cmd := range replayed.succeeded {
		want := "cid-" + string(rune('1'+i))
		if cmd.CID != want {
			t.Fatalf("replay order mismatch at %d: got %q want %q", i, cmd.CID, want)
		}
	}
}
