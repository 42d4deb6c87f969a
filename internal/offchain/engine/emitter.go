package engine

import (
	"context"
	"fmt"

	"github.com/vasprail/offchain/internal/address"
	"github.com/vasprail/offchain/internal/envelope"
	"github.com/vasprail/offchain/internal/offchain"
	"github.com/vasprail/offchain/internal/offchain/payment"
)

// SequenceAndSend implements processor.Emitter. The processor invokes it
// from inside a closure already running on the loop goroutine (Success and
// Failure are only ever called from channel methods driven by submit), so
// this must never call submit itself.
func (e *Engine) SequenceAndSend(ctx context.Context, other address.Address, cmd payment.Command) error {
	return e.sequenceAndSendLocked(ctx, other, cmd)
}

// sequenceAndSendLocked assumes it is already running on the loop goroutine.
// It performs the fast, state-mutating half synchronously (locking read
// dependencies and recording the pending request) and hands the slow half
// (signing, transport I/O, waiting for a response) to a background
// goroutine that posts its continuation back onto the loop.
func (e *Engine) sequenceAndSendLocked(ctx context.Context, other address.Address, cmd payment.Command) error {
	ps, ok := e.peerState(other)
	if !ok {
		return fmt.Errorf("engine: no channel registered for peer %s", other.String())
	}

	req, err := ps.channel.SequenceCommandLocal(cmd)
	if err != nil {
		return err
	}

	go e.deliverRequest(ctx, ps, req)
	return nil
}

// deliverRequest signs and sends a request, then replays the peer's
// response into the loop. Network failures are logged and left for a
// later retransmit pass (spec.md §4.C "get_retransmit"); they are not
// retried here.
func (e *Engine) deliverRequest(ctx context.Context, ps *peerState, req offchain.CommandRequestObject) {
	envBytes, err := envelope.Pack(e.signer, req)
	if err != nil {
		e.log.Error("failed to sign request", "peer", ps.addr.String(), "cid", req.CID, "err", err)
		return
	}

	respBytes, err := e.transport.Send(ctx, ps.addr, envBytes)
	if err != nil {
		e.log.Warn("network error sending request, will retransmit later", "peer", ps.addr.String(), "cid", req.CID, "err", err)
		return
	}

	var resp offchain.CommandResponseObject
	if err := envelope.Unpack(ps.verifier, respBytes, &resp); err != nil {
		e.log.Error("invalid response envelope", "peer", ps.addr.String(), "cid", req.CID, "err", err)
		return
	}

	if err := e.submit(func() error {
		_, err := ps.channel.ParseHandleResponse(ctx, resp)
		return err
	}); err != nil {
		e.log.Warn("response processing error", "peer", ps.addr.String(), "cid", req.CID, "err", err)
	}
}

// RetransmitAll resends every pending request across all peers that has not
// yet received a response (spec.md §4.C's periodic retransmit driver; the
// engine itself never schedules this — the daemon calls it on a timer).
func (e *Engine) RetransmitAll(ctx context.Context) {
	for _, ps := range e.allPeerStates() {
		reqs, err := ps.channel.GetRetransmit()
		if err != nil {
			e.log.Error("failed to list retransmits", "peer", ps.addr.String(), "err", err)
			continue
		}
		for _, req := range reqs {
			go e.deliverRequest(ctx, ps, req)
		}
	}
}
