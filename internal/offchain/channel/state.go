package channel

import (
	"context"

	"github.com/vasprail/offchain/internal/address"
	"github.com/vasprail/offchain/internal/offchain"
	"github.com/vasprail/offchain/internal/offchain/payment"
)

// LockState is the value held in a channel's object_locks dict. Any string
// value other than LockAvailable or LockExpired is a cid: the identifier of
// the locally-pending command currently holding that version's read lock
// (spec.md §3/§4.C).
type LockState string

const (
	LockAvailable LockState = "AVAILABLE"
	LockExpired   LockState = "EXPIRED"
)

// heldByCID reports whether s represents a version held by a pending local
// command, and if so, which one.
func (s LockState) heldByCID() (cid string, ok bool) {
	if s == LockAvailable || s == LockExpired || s == "" {
		return "", false
	}
	return string(s), true
}

// CommittedEntry is the durable record of one exchange on this channel: the
// command as agreed and the response both sides converge on (spec.md §3's
// committed_commands, whose values must serialize byte-identically so a
// retransmitted request always gets back the same bytes).
type CommittedEntry struct {
	Command  payment.Command                `json:"command"`
	Response offchain.CommandResponseObject `json:"response"`
}

// Processor is the command-check and commit-notification surface a Channel
// invokes (spec.md §4.D). processor.PaymentProcessor satisfies this
// structurally; the channel package never imports processor, avoiding an
// import cycle since processor needs to drive channels via its own Emitter
// interface.
type Processor interface {
	// CheckCommand validates a command's payment-layer invariants before
	// the channel commits it. A *offchain.PaymentLogicError carries the
	// wire error code to return to the peer; any other error is treated
	// as a local invariant failure.
	CheckCommand(myAddr, otherAddr address.Address, cmd payment.Command) error

	// Success is invoked once a command commits, successfully, on this
	// channel — whether from a live exchange or replay on startup.
	Success(ctx context.Context, other address.Address, cmd payment.Command)

	// Failure is invoked when a locally-originated command is rejected by
	// the peer (a committed failure response, not a transient wait).
	Failure(ctx context.Context, other address.Address, cmd payment.Command, err error)
}
