// Package address implements the opaque party address type the off-chain
// protocol uses for channel role assignment and payment actor identity.
package address

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	onChainLen  = 16 // on-chain account identifier
	subaddrLen  = 8  // optional subaddress discriminator
	versionByte = 0x01
)

// DefaultHRP is the bech32 human-readable part used when none is configured.
const DefaultHRP = "off"

var (
	// ErrInvalidAddress is returned when an encoded address cannot be parsed.
	ErrInvalidAddress = errors.New("address: invalid encoding")
	// ErrInvalidSubaddress is returned where a subaddress is required but absent.
	ErrInvalidSubaddress = errors.New("address: missing subaddress bytes")
)

// Address is an opaque, structurally-compared party identifier: a 16-byte
// on-chain account id plus an optional 8-byte subaddress. Two addresses are
// equal iff their bytes are equal (never by pointer identity).
type Address struct {
	hrp        string
	onChain    [onChainLen]byte
	subaddress []byte // nil or exactly subaddrLen bytes
}

// New builds an Address from raw on-chain bytes and an optional subaddress.
// onChain must be exactly 16 bytes; subaddress, if non-nil, must be exactly 8.
func New(hrp string, onChain []byte, subaddress []byte) (Address, error) {
	if hrp == "" {
		hrp = DefaultHRP
	}
	if len(onChain) != onChainLen {
		return Address{}, fmt.Errorf("%w: on-chain id must be %d bytes, got %d", ErrInvalidAddress, onChainLen, len(onChain))
	}
	if subaddress != nil && len(subaddress) != subaddrLen {
		return Address{}, fmt.Errorf("%w: subaddress must be %d bytes, got %d", ErrInvalidAddress, subaddrLen, len(subaddress))
	}

	var a Address
	a.hrp = hrp
	copy(a.onChain[:], onChain)
	if subaddress != nil {
		a.subaddress = append([]byte(nil), subaddress...)
	}
	return a, nil
}

// HasSubaddress reports whether this address carries subaddress bytes.
// spec.md §4.D requires this to be true for both payment parties on a new
// payment, else payment_invalid_libra_subaddress.
func (a Address) HasSubaddress() bool {
	return a.subaddress != nil
}

// OnChainBytes returns the raw 16-byte on-chain identifier.
func (a Address) OnChainBytes() []byte {
	return append([]byte(nil), a.onChain[:]...)
}

// SubaddressBytes returns the raw subaddress bytes, or nil if absent.
func (a Address) SubaddressBytes() []byte {
	if a.subaddress == nil {
		return nil
	}
	return append([]byte(nil), a.subaddress...)
}

// LastBit returns the least significant bit of the on-chain portion; used
// only for deterministic server/client role tie-breaking (spec.md §4.C).
func (a Address) LastBit() byte {
	return a.onChain[onChainLen-1] & 1
}

// Equal reports structural equality.
func (a Address) Equal(other Address) bool {
	return a.onChain == other.onChain && bytes.Equal(a.subaddress, other.subaddress)
}

// Compare returns -1, 0 or 1 comparing the on-chain bytes of a and other,
// establishing the total order spec.md §3 requires for role assignment.
func (a Address) Compare(other Address) int {
	return bytes.Compare(a.onChain[:], other.onChain[:])
}

// GreaterOrEqual implements the ">=" comparator spec.md §3 requires.
func (a Address) GreaterOrEqual(other Address) bool {
	return a.Compare(other) >= 0
}

// String returns the bech32-encoded string form: HRP + on-chain id + an
// optional subaddress, with a leading version byte for forward compatibility.
func (a Address) String() string {
	encoded, err := a.encode()
	if err != nil {
		// encode() only fails on malformed HRP/invalid bit groups, which
		// cannot happen for validly-constructed Address values.
		return fmt.Sprintf("<invalid-address:%v>", err)
	}
	return encoded
}

func (a Address) encode() (string, error) {
	payload := make([]byte, 0, 1+onChainLen+subaddrLen)
	payload = append(payload, versionByte)
	payload = append(payload, a.onChain[:]...)
	if a.subaddress != nil {
		payload = append(payload, a.subaddress...)
	}

	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(a.hrp, converted)
}

// FromEncodedString parses the bech32 string form produced by String.
func FromEncodedString(encoded string) (Address, error) {
	hrp, data, err := bech32.Decode(encoded)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(payload) != 1+onChainLen && len(payload) != 1+onChainLen+subaddrLen {
		return Address{}, fmt.Errorf("%w: unexpected payload length %d", ErrInvalidAddress, len(payload))
	}
	if payload[0] != versionByte {
		return Address{}, fmt.Errorf("%w: unsupported version byte %d", ErrInvalidAddress, payload[0])
	}

	onChain := payload[1 : 1+onChainLen]
	var subaddress []byte
	if len(payload) == 1+onChainLen+subaddrLen {
		subaddress = payload[1+onChainLen:]
	}
	return New(hrp, onChain, subaddress)
}
