package engine

import (
	"context"
	"fmt"

	"github.com/vasprail/offchain/internal/address"
	"github.com/vasprail/offchain/internal/envelope"
	"github.com/vasprail/offchain/internal/offchain"
)

// HandleRequestBytes verifies and decodes an incoming request envelope from
// peer, drives it through that peer's channel, and returns the signed
// response envelope to send back (spec.md §4.C "parse_handle_request").
func (e *Engine) HandleRequestBytes(ctx context.Context, peer address.Address, envBytes []byte) ([]byte, error) {
	ps, ok := e.peerState(peer)
	if !ok {
		return nil, fmt.Errorf("engine: no channel registered for peer %s", peer.String())
	}

	var req offchain.CommandRequestObject
	if err := envelope.Unpack(ps.verifier, envBytes, &req); err != nil {
		resp := offchain.Failure("", offchain.ErrorInvalidSignature, err.Error())
		return envelope.Pack(e.signer, resp)
	}

	var resp offchain.CommandResponseObject
	err := e.submit(func() error {
		r, err := ps.channel.ParseHandleRequest(ctx, req)
		resp = r
		return err
	})
	if err != nil {
		return nil, err
	}

	return envelope.Pack(e.signer, resp)
}

// HandleResponseBytes verifies and decodes an incoming response envelope
// from peer and completes the matching locally-originated command (spec.md
// §4.C "parse_handle_response"). The returned bool reports whether this
// call newly committed the command.
func (e *Engine) HandleResponseBytes(ctx context.Context, peer address.Address, envBytes []byte) (bool, error) {
	ps, ok := e.peerState(peer)
	if !ok {
		return false, fmt.Errorf("engine: no channel registered for peer %s", peer.String())
	}

	var resp offchain.CommandResponseObject
	if err := envelope.Unpack(ps.verifier, envBytes, &resp); err != nil {
		return false, err
	}

	var committed bool
	err := e.submit(func() error {
		c, err := ps.channel.ParseHandleResponse(ctx, resp)
		committed = c
		return err
	})
	return committed, err
}
