// Package envelope implements the signed JSON envelope the engine exchanges
// over the transport, plus a default secp256k1 signer/verifier pair.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// ErrInvalidSignature is returned when an envelope's signature does not
// verify, or the envelope bytes could not be parsed at all. Both cases map
// to the wire `invalid_signature` error code (spec.md §6).
var ErrInvalidSignature = errors.New("envelope: invalid signature")

// Envelope is the signed wire container: {payload, signature}.
type Envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"` // hex-encoded
}

// Signer signs arbitrary payload bytes.
type Signer interface {
	Sign(payload []byte) (signatureHex string, err error)
}

// Verifier verifies a payload/signature pair against the sender's public key,
// which the implementation holds.
type Verifier interface {
	Verify(payload []byte, signatureHex string) error
}

// Pack signs payload and returns the marshaled envelope bytes.
func Pack(signer Signer, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal payload: %w", err)
	}
	sig, err := signer.Sign(raw)
	if err != nil {
		return nil, fmt.Errorf("envelope: sign: %w", err)
	}
	return json.Marshal(Envelope{Payload: raw, Signature: sig})
}

// Unpack parses and verifies an envelope, decoding its payload into out.
// Any parse or signature failure is reported as ErrInvalidSignature, matching
// spec.md §6's requirement that malformed bytes and bad signatures both
// surface as the same `invalid_signature` wire error.
func Unpack(verifier Verifier, data []byte, out any) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := verifier.Verify(env.Payload, env.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if out != nil {
		if err := json.Unmarshal(env.Payload, out); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}
	return nil
}

// Secp256k1Signer signs payloads by ECDSA over the SHA-256 digest, in the
// style of the teacher's MuSig2/HTLC signing code paths.
type Secp256k1Signer struct {
	key *btcec.PrivateKey
}

// NewSecp256k1Signer wraps an existing private key.
func NewSecp256k1Signer(key *btcec.PrivateKey) *Secp256k1Signer {
	return &Secp256k1Signer{key: key}
}

// GenerateSecp256k1Signer creates a fresh key pair, returning the signer and
// its matching verifier.
func GenerateSecp256k1Signer() (*Secp256k1Signer, *Secp256k1Verifier, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: generate key: %w", err)
	}
	return NewSecp256k1Signer(key), NewSecp256k1Verifier(key.PubKey()), nil
}

func (s *Secp256k1Signer) Sign(payload []byte) (string, error) {
	digest := sha256.Sum256(payload)
	sig := ecdsa.Sign(s.key, digest[:])
	return hex.EncodeToString(sig.Serialize()), nil
}

// Secp256k1Verifier verifies signatures produced by the matching signer.
type Secp256k1Verifier struct {
	pub *btcec.PublicKey
}

// NewSecp256k1Verifier wraps a known public key.
func NewSecp256k1Verifier(pub *btcec.PublicKey) *Secp256k1Verifier {
	return &Secp256k1Verifier{pub: pub}
}

// PublicKeyHex returns the compressed public key, hex-encoded, for sharing
// with a counterparty out of band (e.g. in their peer book entry).
func (v *Secp256k1Verifier) PublicKeyHex() string {
	return hex.EncodeToString(v.pub.SerializeCompressed())
}

func (v *Secp256k1Verifier) Verify(payload []byte, signatureHex string) error {
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}
	digest := sha256.Sum256(payload)
	if !sig.Verify(digest[:], v.pub) {
		return errors.New("signature does not verify")
	}
	return nil
}
