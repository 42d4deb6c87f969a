// Package transport carries signed protocol envelopes between off-chain
// engines over the network (spec.md §4.F / §6, given a concrete default so
// the daemon can actually run: HTTP POST request/response delivery plus an
// optional WebSocket nudge channel, grounded on the teacher's
// internal/rpc/server.go and internal/rpc/websocket.go).
package transport

import (
	"context"
	"sync"

	"github.com/vasprail/offchain/internal/address"
)

// Transport sends a signed request envelope to peer and returns its signed
// response envelope. Implementations are the engine's only window onto the
// network; engine.Engine depends on this shape structurally, not on this
// package, to avoid an import cycle (the same pattern as channel.Processor
// and processor.Emitter).
type Transport interface {
	Send(ctx context.Context, peer address.Address, envelope []byte) (response []byte, err error)
}

// Server accepts incoming request envelopes and dispatches each to handle,
// returning the bytes handle produces as the response body.
type Server interface {
	Serve(ctx context.Context, handle func(peer address.Address, envelope []byte) ([]byte, error)) error
}

// AddressBook resolves an off-chain address to the base URL its owner's
// transport listens on. It is the one piece of out-of-band configuration
// HTTPTransport needs (spec.md leaves peer discovery external to the
// protocol); cmd/offchaind populates one from the configured peer list.
type AddressBook struct {
	mu   sync.RWMutex
	urls map[string]string
}

// NewAddressBook returns an empty AddressBook.
func NewAddressBook() *AddressBook {
	return &AddressBook{urls: make(map[string]string)}
}

// Set records the base URL (e.g. "https://counterparty.example:8443") at
// which addr's owner can be reached.
func (b *AddressBook) Set(addr address.Address, baseURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.urls[addr.String()] = baseURL
}

// Resolve returns the base URL registered for addr, if any.
func (b *AddressBook) Resolve(addr address.Address) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	url, ok := b.urls[addr.String()]
	return url, ok
}
