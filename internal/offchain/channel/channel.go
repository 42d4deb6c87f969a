package channel

import (
	"context"
	"fmt"

	"github.com/vasprail/offchain/internal/address"
	"github.com/vasprail/offchain/internal/offchain"
	"github.com/vasprail/offchain/internal/offchain/payment"
	"github.com/vasprail/offchain/internal/storage"
)

// Channel is the durable relationship between this party and one other: the
// command log, pending-request table and object locks for that pair
// (spec.md §3 "Channel state", §4.C). The object_store and
// reference_id_index are NOT owned here — they are global to the local
// party (spec.md §6's processor/object_store, processor/reference_id_index)
// and are injected so every Channel of the same Engine shares one copy.
type Channel struct {
	me, other address.Address
	role      Role

	committedCommands *storage.Dict[CommittedEntry]
	myPendingRequests *storage.Dict[payment.Command]
	objectLocks       *storage.Dict[LockState]

	objectStore      *storage.Dict[payment.PaymentObject]
	referenceIDIndex *storage.Dict[string]

	processor Processor
}

// New builds the channel for the (me, other) pair, rooted under the given
// storage namespace. objectStore and referenceIDIndex are shared across all
// of one party's channels; the caller (the engine) constructs them once.
func New(
	store *storage.Storage,
	root *storage.Dir,
	me, other address.Address,
	objectStore *storage.Dict[payment.PaymentObject],
	referenceIDIndex *storage.Dict[string],
	proc Processor,
) (*Channel, error) {
	role, err := RoleOf(me, other)
	if err != nil {
		return nil, err
	}

	peerDir := root.Sub("channel").Sub(other.String())
	return &Channel{
		me:                me,
		other:             other,
		role:              role,
		committedCommands: storage.NewDict[CommittedEntry](store, "committed_commands", peerDir),
		myPendingRequests: storage.NewDict[payment.Command](store, "my_pending_requests", peerDir),
		objectLocks:       storage.NewDict[LockState](store, "object_locks", peerDir),
		objectStore:       objectStore,
		referenceIDIndex:  referenceIDIndex,
		processor:         proc,
	}, nil
}

func (c *Channel) Me() address.Address    { return c.me }
func (c *Channel) Other() address.Address { return c.other }
func (c *Channel) Role() Role             { return c.role }

// SequenceCommandLocal locks cmd's read dependencies and records it as
// pending, returning the request object ready for envelope packaging and
// transport (spec.md §4.C "sequence_command_local").
func (c *Channel) SequenceCommandLocal(cmd payment.Command) (offchain.CommandRequestObject, error) {
	missing, used, locked, err := c.checkLocalReads(cmd.Dependencies())
	if err != nil {
		return offchain.CommandRequestObject{}, err
	}
	if len(missing) > 0 || len(used) > 0 || len(locked) > 0 {
		return offchain.CommandRequestObject{}, &offchain.DependencyError{Missing: missing, Used: used, Locked: locked}
	}

	for _, v := range cmd.Dependencies() {
		if err := c.objectLocks.Put(v, LockState(cmd.CID)); err != nil {
			return offchain.CommandRequestObject{}, err
		}
	}
	if err := c.myPendingRequests.Put(cmd.CID, cmd); err != nil {
		return offchain.CommandRequestObject{}, err
	}

	return offchain.CommandRequestObject{CID: cmd.CID, Command: cmd}, nil
}

// checkLocalReads classifies cmd's read versions for a local
// sequence_command_local call: any version not yet written is missing, any
// EXPIRED version is used, and any version held by a cid (necessarily one of
// this side's own still-pending commands, since only this side's locking
// ever assigns a cid) is locked.
func (c *Channel) checkLocalReads(reads []string) (missing, used, locked []string, err error) {
	for _, v := range reads {
		inStore, ierr := c.objectStore.Contains(v)
		if ierr != nil {
			return nil, nil, nil, ierr
		}
		if !inStore {
			missing = append(missing, v)
			continue
		}
		state, ok, ierr := c.objectLocks.TryGet(v)
		if ierr != nil {
			return nil, nil, nil, ierr
		}
		switch {
		case !ok || state == LockAvailable:
			// available, nothing to record
		case state == LockExpired:
			used = append(used, v)
		default:
			locked = append(locked, v)
		}
	}
	return missing, used, locked, nil
}

// incomingReadState is the per-version classification of an incoming
// request's reads: missing, already-consumed, or held by one of our own
// pending commands (candidate for role tie-break).
type incomingReadState struct {
	missing []string
	used    []string
	heldBy  map[string]string // version -> holding cid
}

func (c *Channel) checkIncomingReads(reads []string) (incomingReadState, error) {
	var st incomingReadState
	st.heldBy = make(map[string]string)
	for _, v := range reads {
		inStore, err := c.objectStore.Contains(v)
		if err != nil {
			return st, err
		}
		if !inStore {
			st.missing = append(st.missing, v)
			continue
		}
		state, ok, err := c.objectLocks.TryGet(v)
		if err != nil {
			return st, err
		}
		if !ok || state == LockAvailable {
			continue
		}
		if state == LockExpired {
			st.used = append(st.used, v)
			continue
		}
		if cid, held := state.heldByCID(); held {
			st.heldBy[v] = cid
		}
	}
	return st, nil
}

// evictOwnPending reverts a locally-pending command's read locks to
// AVAILABLE and drops it from my_pending_requests: the loser's side of a
// role tie-break (spec.md §4.C).
func (c *Channel) evictOwnPending(cid string) error {
	cmd, err := c.myPendingRequests.Get(cid)
	if err != nil {
		return err
	}
	for _, v := range cmd.Dependencies() {
		if err := c.objectLocks.Put(v, LockAvailable); err != nil {
			return err
		}
	}
	return c.myPendingRequests.Delete(cid)
}

// ParseHandleRequest processes an already envelope-verified incoming request
// and always returns a response to sign and send back (spec.md §4.C
// "parse_handle_request"). The returned error, when non-nil, is a local
// infrastructure failure (storage I/O); it is never part of the wire
// protocol and the response should not be sent in that case.
func (c *Channel) ParseHandleRequest(ctx context.Context, req offchain.CommandRequestObject) (offchain.CommandResponseObject, error) {
	cid := req.CID

	if entry, ok, err := c.committedCommands.TryGet(cid); err != nil {
		return offchain.CommandResponseObject{}, err
	} else if ok {
		return entry.Response, nil
	}

	cmd := req.Command
	st, err := c.checkIncomingReads(cmd.Dependencies())
	if err != nil {
		return offchain.CommandResponseObject{}, err
	}

	if len(st.missing) > 0 {
		resp := offchain.Failure(cid, offchain.ErrorMissingDependencies, fmt.Sprintf("missing dependencies: %v", st.missing))
		if err := c.commit(cmd, resp); err != nil {
			return offchain.CommandResponseObject{}, err
		}
		return resp, nil
	}

	if len(st.heldBy) > 0 {
		if c.role == RoleServer {
			// We win the tie-break: reject the peer without committing so
			// it can retry once our pending command resolves.
			return offchain.Failure(cid, offchain.ErrorWait, "version locked by a concurrently pending local command"), nil
		}
		// We lose: evict our own pending command(s) and accept the peer's.
		evicted := make(map[string]bool)
		for _, ownCID := range st.heldBy {
			if evicted[ownCID] {
				continue
			}
			evicted[ownCID] = true
			if err := c.evictOwnPending(ownCID); err != nil {
				return offchain.CommandResponseObject{}, err
			}
		}
	}

	if len(st.used) > 0 {
		resp := offchain.Failure(cid, offchain.ErrorConflict, fmt.Sprintf("already consumed: %v", st.used))
		if err := c.commit(cmd, resp); err != nil {
			return offchain.CommandResponseObject{}, err
		}
		return resp, nil
	}

	if err := c.processor.CheckCommand(c.me, c.other, cmd); err != nil {
		code, message := classifyCheckError(err)
		resp := offchain.Failure(cid, code, message)
		if err := c.commit(cmd, resp); err != nil {
			return offchain.CommandResponseObject{}, err
		}
		return resp, nil
	}

	resp := offchain.Success(cid)
	if err := c.commit(cmd, resp); err != nil {
		return offchain.CommandResponseObject{}, err
	}
	c.processor.Success(ctx, c.other, cmd)
	return resp, nil
}

func classifyCheckError(err error) (offchain.ErrorCode, string) {
	if ple, ok := err.(*offchain.PaymentLogicError); ok {
		return ple.Code, ple.Message
	}
	return offchain.ErrorPaymentWrongStructure, err.Error()
}

// ParseHandleResponse processes an already envelope-verified response to a
// request this side originated, returning true iff this call newly
// committed the command (spec.md §4.C "parse_handle_response").
func (c *Channel) ParseHandleResponse(ctx context.Context, resp offchain.CommandResponseObject) (bool, error) {
	cid := resp.CID

	if _, ok, err := c.committedCommands.TryGet(cid); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}

	cmd, ok, err := c.myPendingRequests.TryGet(cid)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, offchain.NewException("spurious response for unknown cid %q", cid)
	}

	if resp.IsWait() {
		return false, offchain.NewProtocolError(offchain.ErrorWait, "peer asked us to retry cid %q", cid)
	}

	if !resp.IsSuccess() {
		for _, v := range cmd.Dependencies() {
			if err := c.objectLocks.Put(v, LockAvailable); err != nil {
				return false, err
			}
		}
		if err := c.myPendingRequests.Delete(cid); err != nil {
			return false, err
		}
		if err := c.committedCommands.Put(cid, CommittedEntry{Command: cmd, Response: resp}); err != nil {
			return false, err
		}
		protoErr := offchain.NewProtocolError(resp.Error.Code, "%s", resp.Error.Message)
		c.processor.Failure(ctx, c.other, cmd, protoErr)
		return false, protoErr
	}

	if err := c.commit(cmd, resp); err != nil {
		return false, err
	}
	if err := c.myPendingRequests.Delete(cid); err != nil {
		return false, err
	}
	c.processor.Success(ctx, c.other, cmd)
	return true, nil
}

// commit durably records cmd's outcome and, on success, expires its reads
// and publishes its writes to the shared object_store/reference_id_index
// (spec.md §4.B/§4.C step 5). It is the only path that mutates object_store.
func (c *Channel) commit(cmd payment.Command, resp offchain.CommandResponseObject) error {
	if resp.IsSuccess() {
		for _, v := range cmd.Dependencies() {
			if err := c.objectLocks.Put(v, LockExpired); err != nil {
				return err
			}
		}
		for _, w := range cmd.WritesVersionMap {
			if err := c.objectStore.Put(w.Version, cmd.Payment); err != nil {
				return err
			}
			if err := c.objectLocks.Put(w.Version, LockAvailable); err != nil {
				return err
			}
			if err := c.referenceIDIndex.Put(w.ReferenceID, w.Version); err != nil {
				return err
			}
		}
	}
	return c.committedCommands.Put(cmd.CID, CommittedEntry{Command: cmd, Response: resp})
}

// GetRetransmit returns every locally-originated command awaiting a
// response, in original sequencing order.
func (c *Channel) GetRetransmit() ([]offchain.CommandRequestObject, error) {
	cids, err := c.myPendingRequests.Keys()
	if err != nil {
		return nil, err
	}
	reqs := make([]offchain.CommandRequestObject, 0, len(cids))
	for _, cid := range cids {
		cmd, ok, err := c.myPendingRequests.TryGet(cid)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // raced with a concurrent commit/eviction; skip
		}
		reqs = append(reqs, offchain.CommandRequestObject{CID: cid, Command: cmd})
	}
	return reqs, nil
}

// WouldRetransmit reports whether GetRetransmit would return any requests.
func (c *Channel) WouldRetransmit() (bool, error) {
	empty, err := c.myPendingRequests.IsEmpty()
	if err != nil {
		return false, err
	}
	return !empty, nil
}

// Replay re-drives the processor's success callback for every successfully
// committed command, in original commit order, on engine startup (spec.md
// §4.C "Crash recovery"). my_pending_requests needs no replay: it already
// survived restart and GetRetransmit will re-emit it.
func (c *Channel) Replay(ctx context.Context) error {
	cids, err := c.committedCommands.Keys()
	if err != nil {
		return err
	}
	for _, cid := range cids {
		entry, ok, err := c.committedCommands.TryGet(cid)
		if err != nil {
			return err
		}
		if !ok || !entry.Response.IsSuccess() {
			continue
		}
		c.processor.Success(ctx, c.other, entry.Command)
	}
	return nil
}
