package state

import (
	"errors"
	"fmt"

	"github.com/stellar/go/keypair"
)

var ErrIncorrectHash = errors.New("incorrect hash")

// SignatureEntry is a signature of a state hash by a signing address.
type SignatureEntry struct {
	Signer    string
	Signature []byte
}

// SignedVariables are variables together with the hash of the full state
// they belong to and the signatures collected for it.
type SignedVariables struct {
	Variables
	StateHash  Bytes32
	Signatures []SignatureEntry
}

// NewSignedVariables hashes the variables with the constants. The result
// carries no signatures.
func NewSignedVariables(c Constants, v Variables) (SignedVariables, error) {
	h, err := Hash(c, v)
	if err != nil {
		return SignedVariables{}, err
	}
	return SignedVariables{Variables: v, StateHash: h}, nil
}

// Sign hashes and signs the variables with the key.
func Sign(kp *keypair.Full, c Constants, v Variables) (SignedVariables, error) {
	sv, err := NewSignedVariables(c, v)
	if err != nil {
		return SignedVariables{}, err
	}
	return sv.Sign(kp)
}

// Sign returns a copy of the signed variables with a signature of the state
// hash by the key added. Signing twice is a no-op.
func (sv SignedVariables) Sign(kp *keypair.Full) (SignedVariables, error) {
	if sv.SignedBy(kp.Address()) {
		return sv, nil
	}
	sig, err := kp.Sign(sv.StateHash[:])
	if err != nil {
		return SignedVariables{}, fmt.Errorf("signing state %s: %w", sv.StateHash, err)
	}
	return sv.AddSignature(SignatureEntry{Signer: kp.Address(), Signature: sig}), nil
}

// AddSignature returns a copy with the entry appended, unless the signer has
// already signed.
func (sv SignedVariables) AddSignature(e SignatureEntry) SignedVariables {
	if sv.SignedBy(e.Signer) {
		return sv
	}
	sigs := make([]SignatureEntry, 0, len(sv.Signatures)+1)
	sigs = append(sigs, sv.Signatures...)
	sigs = append(sigs, e)
	sv.Signatures = sigs
	return sv
}

// SignedBy reports whether the signing address has a signature entry.
func (sv SignedVariables) SignedBy(signingAddress string) bool {
	for _, s := range sv.Signatures {
		if s.Signer == signingAddress {
			return true
		}
	}
	return false
}

// Signers lists the signing addresses with signature entries.
func (sv SignedVariables) Signers() []string {
	signers := make([]string, 0, len(sv.Signatures))
	for _, s := range sv.Signatures {
		signers = append(signers, s.Signer)
	}
	return signers
}

// CheckHash fails with ErrIncorrectHash when the stored hash is not the hash
// of the constants and variables.
func (sv SignedVariables) CheckHash(c Constants) error {
	h, err := Hash(c, sv.Variables)
	if err != nil {
		return err
	}
	if h != sv.StateHash {
		return fmt.Errorf("%w: state at turn %d has hash %s expected %s", ErrIncorrectHash, sv.TurnNum, sv.StateHash, h)
	}
	return nil
}

// MergeSignatures returns a with any signatures in b it lacks appended. Both
// must be for the same state.
func MergeSignatures(a, b SignedVariables) (SignedVariables, error) {
	if a.StateHash != b.StateHash {
		return SignedVariables{}, fmt.Errorf("merging signatures of different states %s and %s", a.StateHash, b.StateHash)
	}
	for _, e := range b.Signatures {
		a = a.AddSignature(e)
	}
	return a, nil
}
