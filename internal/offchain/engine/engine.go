// Package engine drives the single-threaded cooperative loop that owns all
// off-chain protocol state: per-peer channels, the payment processor, and
// the storage handles they share (spec.md §5). Every mutation of that state
// runs as a closure submitted to the loop; signing and transport I/O run on
// other goroutines and post their continuation back onto the loop, while
// business callbacks and storage writes run synchronously inside loop
// closures.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vasprail/offchain/internal/address"
	"github.com/vasprail/offchain/internal/envelope"
	"github.com/vasprail/offchain/internal/offchain"
	"github.com/vasprail/offchain/internal/offchain/channel"
	"github.com/vasprail/offchain/internal/offchain/payment"
	"github.com/vasprail/offchain/internal/offchain/processor"
	"github.com/vasprail/offchain/internal/storage"
	"github.com/vasprail/offchain/pkg/logging"
)

// Transport is the outbound half of the wire: deliver a signed envelope to a
// peer and get its signed response envelope back. Defined here, not
// imported from internal/transport, so this package never depends on a
// concrete transport — any type structurally satisfying this is accepted
// (the engine/channel/processor import-cycle-avoidance pattern of
// internal/rpc/swap_p2p.go, extended one level further).
type Transport interface {
	Send(ctx context.Context, peer address.Address, envelopeBytes []byte) (responseBytes []byte, err error)
}

// peerState is the per-counterparty wiring: its channel plus the verifier
// needed to authenticate envelopes it sends us.
type peerState struct {
	addr     address.Address
	verifier envelope.Verifier
	channel  *channel.Channel
}

// Engine is one local party's runtime: one loop, one processor, one channel
// per counterparty.
type Engine struct {
	me        address.Address
	store     *storage.Storage
	root      *storage.Dir
	signer    envelope.Signer
	transport Transport
	processor *processor.PaymentProcessor
	log       *logging.Logger

	objectStore      *storage.Dict[payment.PaymentObject]
	referenceIDIndex *storage.Dict[string]

	loop chan func()
	quit chan struct{}

	peersMu sync.RWMutex
	peers   map[string]*peerState
}

// Config collects an Engine's dependencies.
type Config struct {
	Me        address.Address
	Store     *storage.Storage
	Business  offchain.Business
	Signer    envelope.Signer
	Transport Transport
	Log       *logging.Logger
}

// New builds an Engine. Call Run in its own goroutine before driving any
// protocol traffic through it.
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = logging.Default()
	}

	root := storage.NewRootDir(cfg.Me.String())
	processorRoot := root.Sub("processor")
	objectStore := storage.NewDict[payment.PaymentObject](cfg.Store, "object_store", processorRoot)
	referenceIDIndex := storage.NewDict[string](cfg.Store, "reference_id_index", processorRoot)

	pp := processor.New(cfg.Business, objectStore, referenceIDIndex, log.Component("processor"))

	e := &Engine{
		me:               cfg.Me,
		store:            cfg.Store,
		root:             root,
		signer:           cfg.Signer,
		transport:        cfg.Transport,
		processor:        pp,
		log:              log.Component("engine"),
		objectStore:      objectStore,
		referenceIDIndex: referenceIDIndex,
		loop:             make(chan func()),
		quit:             make(chan struct{}),
		peers:            make(map[string]*peerState),
	}
	pp.SetEmitter(e)
	return e
}

// Run drives the loop until ctx is cancelled. It must run in its own
// goroutine; every other Engine method is safe to call concurrently from
// any goroutine.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.quit)
	for {
		select {
		case fn := <-e.loop:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// submit runs fn on the loop goroutine and waits for it to finish. Callers
// already executing on the loop goroutine (e.g. a processor.Emitter
// callback invoked from inside a submitted closure) must NOT call submit —
// it would deadlock waiting for a turn the loop cannot give itself. Use the
// unexported *Locked helpers instead in that position.
func (e *Engine) submit(fn func() error) error {
	result := make(chan error, 1)
	select {
	case e.loop <- func() { result <- fn() }:
	case <-e.quit:
		return fmt.Errorf("engine: loop is not running")
	}
	return <-result
}

// Processor exposes the underlying payment processor, e.g. for
// WaitForOutcome and history queries, which are safe to call from any
// goroutine (they do their own synchronization).
func (e *Engine) Processor() *processor.PaymentProcessor { return e.processor }

// AddPeer registers a counterparty channel, building its storage-backed
// state and role assignment (spec.md §4.C). It blocks until the loop runs
// it, so Run must already be running in another goroutine.
func (e *Engine) AddPeer(other address.Address, verifier envelope.Verifier) error {
	return e.submit(func() error {
		ch, err := channel.New(e.store, e.root, e.me, other, e.objectStore, e.referenceIDIndex, e.processor)
		if err != nil {
			return err
		}
		e.peersMu.Lock()
		e.peers[other.String()] = &peerState{addr: other, verifier: verifier, channel: ch}
		e.peersMu.Unlock()
		return nil
	})
}

func (e *Engine) peerState(other address.Address) (*peerState, bool) {
	e.peersMu.RLock()
	defer e.peersMu.RUnlock()
	ps, ok := e.peers[other.String()]
	return ps, ok
}

// allPeerStates returns a snapshot of every registered peer.
func (e *Engine) allPeerStates() []*peerState {
	e.peersMu.RLock()
	defer e.peersMu.RUnlock()
	out := make([]*peerState, 0, len(e.peers))
	for _, ps := range e.peers {
		out = append(out, ps)
	}
	return out
}

// OriginatePayment starts a brand-new payment with other, blocking until the
// local sequencing step either succeeds (the peer exchange proceeds
// asynchronously) or is rejected locally (e.g. a dependency conflict).
func (e *Engine) OriginatePayment(ctx context.Context, other address.Address, p payment.PaymentObject) error {
	cmd := payment.NewCommand(uuid.NewString(), e.me.String(), p)
	return e.submit(func() error {
		return e.sequenceAndSendLocked(ctx, other, cmd)
	})
}

// WaitForOutcome blocks until referenceID's payment reaches a final state.
func (e *Engine) WaitForOutcome(ctx context.Context, referenceID string) (payment.PaymentObject, error) {
	return e.processor.WaitForOutcome(ctx, referenceID)
}
