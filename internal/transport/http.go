package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vasprail/offchain/internal/address"
)

// senderHeader carries the caller's own off-chain address so the receiving
// HTTPServer can look up which peer channel the envelope belongs to; the
// envelope itself carries no sender identity (the signature alone proves
// authenticity once the peer is known).
const senderHeader = "X-Offchain-Sender"

// HTTPTransport delivers request envelopes by HTTP POST, one round trip per
// command, matching the teacher's JSON-RPC backend's call shape
// (internal/backend/jsonrpc.go) but carrying opaque signed bytes instead of
// a JSON-RPC payload.
type HTTPTransport struct {
	me         address.Address
	book       *AddressBook
	httpClient *http.Client
}

// NewHTTPTransport builds a transport bound to the local party's own
// address, resolving peers through book.
func NewHTTPTransport(me address.Address, book *AddressBook) *HTTPTransport {
	return &HTTPTransport{
		me:   me,
		book: book,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, peer address.Address, envelope []byte) ([]byte, error) {
	baseURL, ok := t.book.Resolve(peer)
	if !ok {
		return nil, fmt.Errorf("transport: no known address for peer %s", peer.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(envelope))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(senderHeader, t.me.String())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: sending to %s: %w", peer.String(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transport: peer %s returned status %d: %s", peer.String(), resp.StatusCode, string(body))
	}

	return body, nil
}
