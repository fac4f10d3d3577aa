package state

import (
	"fmt"

	"github.com/stellar/go/keypair"
	"golang.org/x/sync/errgroup"
)

type signatureVerificationInput struct {
	StateHash Bytes32
	Signature []byte
	Signer    *keypair.FromAddress
}

func verifySignatures(inputs []signatureVerificationInput) error {
	g := errgroup.Group{}
	for _, i := range inputs {
		i := i
		g.Go(func() error {
			err := i.Signer.Verify(i.StateHash[:], i.Signature)
			if err != nil {
				return fmt.Errorf("verifying signature of %s by %s: %w", i.StateHash, i.Signer.Address(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// VerifySignatures checks the hash of each state against the constants and
// every signature entry against the hash. Signers must be participants.
func VerifySignatures(c Constants, svs ...SignedVariables) error {
	inputs := []signatureVerificationInput{}
	for _, sv := range svs {
		err := sv.CheckHash(c)
		if err != nil {
			return err
		}
		for _, e := range sv.Signatures {
			if c.IndexOf(e.Signer) < 0 {
				return fmt.Errorf("signer %s of state %s is not a participant", e.Signer, sv.StateHash)
			}
			signer, err := keypair.ParseAddress(e.Signer)
			if err != nil {
				return fmt.Errorf("parsing signer %s: %w", e.Signer, err)
			}
			inputs = append(inputs, signatureVerificationInput{
				StateHash: sv.StateHash,
				Signature: e.Signature,
				Signer:    signer,
			})
		}
	}
	return verifySignatures(inputs)
}
