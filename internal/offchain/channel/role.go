// Package channel implements the pairwise request/response protocol state
// machine between two parties: role assignment, dependency locking,
// sequencing, retransmission, and at-most-once commit (spec.md §4.C).
package channel

import (
	"fmt"

	"github.com/vasprail/offchain/internal/address"
)

// Role is a channel endpoint's deterministic tie-breaking role.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// AssignRoles determines which of a and b is the server: the party with the
// larger address is server when the XOR of both last bits is 1; otherwise
// the smaller address is server (spec.md §4.C). A channel whose endpoints
// are structurally equal is rejected.
func AssignRoles(a, b address.Address) (serverAddr address.Address, err error) {
	if a.Equal(b) {
		return address.Address{}, fmt.Errorf("channel: endpoints must differ")
	}

	larger, smaller := a, b
	if b.Compare(a) > 0 {
		larger, smaller = b, a
	}

	xor := a.LastBit() ^ b.LastBit()
	if xor == 1 {
		return larger, nil
	}
	return smaller, nil
}

// RoleOf returns which role `me` plays in a channel with `other`.
func RoleOf(me, other address.Address) (Role, error) {
	server, err := AssignRoles(me, other)
	if err != nil {
		return RoleClient, err
	}
	if server.Equal(me) {
		return RoleServer, nil
	}
	return RoleClient, nil
}
