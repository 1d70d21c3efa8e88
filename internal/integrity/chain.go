package integrity

import (
	"fmt"
	"time"
)

// Reason describes why a chain failed verification.
type Reason string

const (
	// ReasonHashMismatch means a record's content no longer matches its stored hash.
	ReasonHashMismatch Reason = "hash_mismatch"
	// ReasonChainBreak means a record's previous_hash does not point at its predecessor.
	ReasonChainBreak Reason = "chain_break"
	// ReasonSequenceGap means a sequence number is missing or out of order.
	ReasonSequenceGap Reason = "sequence_gap"
)

// Link is one record of a hash chain.
type Link interface {
	ChainSequence() int64
	ChainPrevious() string
	ChainHash() string
	// ComputeHash recomputes the integrity hash from the record's content.
	ComputeHash() (string, error)
}

// Report is the outcome of verifying one chain.
type Report struct {
	Chain        string    `json:"chain"`
	Checked      int64     `json:"checked"`
	Valid        bool      `json:"valid"`
	BrokenAt     int64     `json:"broken_at,omitempty"`
	Reason       Reason    `json:"reason,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	HeadSequence int64     `json:"head_sequence"`
	HeadHash     string    `json:"head_hash,omitempty"`
	VerifiedAt   time.Time `json:"verified_at"`
}

// ChainVerifier walks a chain one link at a time in ascending sequence order.
// Sequences start at 1 and the first record links to GenesisHash.
type ChainVerifier struct {
	report   Report
	prevHash string
	broken   bool
}

// NewChainVerifier starts verification of the named chain.
func NewChainVerifier(chain string) *ChainVerifier {
	return &ChainVerifier{
		report:   Report{Chain: chain, Valid: true},
		prevHash: GenesisHash,
	}
}

// Check verifies the next link. It returns false once the chain is broken or
// the link cannot be hashed; callers stop scanning at that point.
func (v *ChainVerifier) Check(l Link) (bool, error) {
	if v.broken {
		return false, nil
	}

	seq := l.ChainSequence()
	want := v.report.HeadSequence + 1
	switch {
	case seq != want:
		v.fail(seq, ReasonSequenceGap, fmt.Sprintf("expected sequence %d, found %d", want, seq))
		return false, nil
	case l.ChainPrevious() != v.prevHash:
		v.fail(seq, ReasonChainBreak, "previous_hash does not match the preceding record")
		return false, nil
	}

	computed, err := l.ComputeHash()
	if err != nil {
		return false, fmt.Errorf("compute hash at sequence %d: %w", seq, err)
	}
	if !Equal(computed, l.ChainHash()) {
		v.fail(seq, ReasonHashMismatch, "stored integrity_hash does not match record content")
		return false, nil
	}

	v.report.Checked++
	v.report.HeadSequence = seq
	v.report.HeadHash = l.ChainHash()
	v.prevHash = l.ChainHash()
	return true, nil
}

func (v *ChainVerifier) fail(seq int64, reason Reason, detail string) {
	v.broken = true
	v.report.Valid = false
	v.report.BrokenAt = seq
	v.report.Reason = reason
	v.report.Detail = detail
}

// Report returns the verification result so far.
func (v *ChainVerifier) Report() Report {
	r := v.report
	r.VerifiedAt = time.Now().UTC()
	return r
}
