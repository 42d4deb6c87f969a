package payment

// VersionRef is a (reference_id, version) pair as used in a command's
// reads_version_map and writes_version_map (spec.md §3).
type VersionRef struct {
	ReferenceID string `json:"reference_id"`
	Version     string `json:"version"`
}

// Command is a proposed write of one new PaymentObject version, optionally
// depending on ("reading") prior versions of the same or other payments.
type Command struct {
	CID    string `json:"cid"`
	Origin string `json:"origin"` // encoded address of the originating party

	ReadsVersionMap  []VersionRef `json:"reads_version_map"`
	WritesVersionMap []VersionRef `json:"writes_version_map"`

	Payment PaymentObject `json:"payment"`
}

// NewCommand builds a command writing payment's version and, if payment has
// a previous version, reading it under the same reference_id — matching the
// invariant that the payment use case writes exactly one version per command.
func NewCommand(cid, origin string, payment PaymentObject) Command {
	c := Command{
		CID:     cid,
		Origin:  origin,
		Payment: payment,
		WritesVersionMap: []VersionRef{
			{ReferenceID: payment.ReferenceID, Version: payment.Version},
		},
	}
	if payment.PreviousVersion != "" {
		c.ReadsVersionMap = []VersionRef{
			{ReferenceID: payment.ReferenceID, Version: payment.PreviousVersion},
		}
	}
	return c
}

// Dependencies returns every version this command reads.
func (c Command) Dependencies() []string {
	versions := make([]string, len(c.ReadsVersionMap))
	for i, r := range c.ReadsVersionMap {
		versions[i] = r.Version
	}
	return versions
}

// NewObjectVersions returns every version this command writes.
func (c Command) NewObjectVersions() []string {
	versions := make([]string, len(c.WritesVersionMap))
	for i, w := range c.WritesVersionMap {
		versions[i] = w.Version
	}
	return versions
}

// PreviousVersion returns the version this command's (single, in the
// payment use case) read depends on, if any.
func (c Command) PreviousVersion() (string, bool) {
	if len(c.ReadsVersionMap) == 0 {
		return "", false
	}
	return c.ReadsVersionMap[0].Version, true
}

// IsNewPayment reports whether this command introduces a payment with no
// prior version (an empty reads_version_map).
func (c Command) IsNewPayment() bool {
	return len(c.ReadsVersionMap) == 0
}
