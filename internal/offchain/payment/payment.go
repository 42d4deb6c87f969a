package payment

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PaymentActor is one side (sender or receiver) of a payment.
type PaymentActor struct {
	// Address is the bech32-encoded party address, including subaddress
	// bytes; spec.md §4.D requires these to be present on both actors of a
	// new payment.
	Address string `json:"address"`

	KYCData           json.RawMessage `json:"kyc_data,omitempty"`
	AdditionalKYCData json.RawMessage `json:"additional_kyc_data,omitempty"`

	Status StatusObject `json:"status"`
}

// Equal reports whether two actors are byte-identical, used by the
// "our own actor did not change" update check (spec.md §4.D).
func (a PaymentActor) Equal(other PaymentActor) bool {
	if a.Address != other.Address || a.Status != other.Status {
		return false
	}
	return string(a.KYCData) == string(other.KYCData) &&
		string(a.AdditionalKYCData) == string(other.AdditionalKYCData)
}

// PaymentObject is one immutable version of a logical payment.
type PaymentObject struct {
	Version         string `json:"version"`
	PreviousVersion string `json:"previous_version,omitempty"`

	ReferenceID string `json:"reference_id"`

	Sender   PaymentActor `json:"sender"`
	Receiver PaymentActor `json:"receiver"`

	RecipientSignature string            `json:"recipient_signature,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Actor returns the Sender or Receiver actor depending on role.
func (p PaymentObject) Actor(isSender bool) PaymentActor {
	if isSender {
		return p.Sender
	}
	return p.Receiver
}

// WithActor returns a copy of p with the sender or receiver actor replaced.
func (p PaymentObject) WithActor(isSender bool, actor PaymentActor) PaymentObject {
	np := p
	if isSender {
		np.Sender = actor
	} else {
		np.Receiver = actor
	}
	return np
}

// NewVersion returns a copy of p bound to a fresh version, with
// PreviousVersion pointing back at p.Version — the "new_version" operation
// payment_process_async uses to start building a successor payment.
func (p PaymentObject) NewVersion(newVersion string) PaymentObject {
	np := p
	np.PreviousVersion = p.Version
	np.Version = newVersion
	return np
}

// HasChanged reports whether p differs from base in any field that would
// warrant emitting a new command (everything except Version/PreviousVersion,
// which always differ once NewVersion has been called).
func (p PaymentObject) HasChanged(base PaymentObject) bool {
	a := p
	b := base
	a.Version, a.PreviousVersion = "", ""
	b.Version, b.PreviousVersion = "", ""
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) != string(bj)
}

// ParseReferenceID splits a reference_id into its origin-party component and
// validates the `<origin>_<suffix>` structure spec.md §3 requires.
func ParseReferenceID(refID string) (origin string, ok bool) {
	idx := strings.IndexByte(refID, '_')
	if idx <= 0 || idx == len(refID)-1 {
		return "", false
	}
	return refID[:idx], true
}

// NewReferenceID builds a reference_id of the required `<origin>_<suffix>` form.
func NewReferenceID(originEncoded, suffix string) string {
	return fmt.Sprintf("%s_%s", originEncoded, suffix)
}
