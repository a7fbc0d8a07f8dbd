package coinjoin

import (
	"fmt"

	"kasmix/internal/config"
	"kasmix/internal/txbuild"
	"kasmix/internal/walletkeys"
)

// SignatureShare is a single participant's contribution to a round: the
// signature script for every input their session owns. The engine never
// sees the private key that produced it.
type SignatureShare struct {
	SessionID string         `json:"session_id"`
	Scripts   map[int]string `json:"scripts"` // input index -> signature script hex
}

// Sign produces the signature shares for every input owned by sessionID in
// roundID's descriptor, using privateKeyHex transiently (§4.4.5). The key
// never leaves this call: it is imported, used to sign, and zeroized before
// returning.
func Sign(descriptor *Descriptor, sessionID string, expectedTxHash string, privateKeyHex string, network string) (*SignatureShare, error) {
	if descriptor == nil {
		return nil, fmt.Errorf("%w: no descriptor to sign against", config.ErrInputValidation)
	}
	txHash, err := descriptor.Unsigned.HashHex()
	if err != nil {
		return nil, fmt.Errorf("hash descriptor transaction: %w", err)
	}
	if expectedTxHash != "" && txHash != expectedTxHash {
		return nil, fmt.Errorf("%w: rebuilt transaction hash does not match the hash published at assembly", config.ErrCommitmentMismatch)
	}

	owned := make([]int, 0)
	for i, owner := range descriptor.InputOwners {
		if owner == sessionID {
			owned = append(owned, i)
		}
	}
	if len(owned) == 0 {
		return nil, fmt.Errorf("%w: session %s owns no input in round %s", config.ErrInputValidation, sessionID, descriptor.RoundID)
	}

	keypair, err := walletkeys.ImportPrivateKeyHex(privateKeyHex, network)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInputValidation, err)
	}
	defer walletkeys.Zeroize(keypair)

	scripts := make(map[int]string, len(owned))
	for _, idx := range owned {
		sigScript, err := txbuild.SignInput(descriptor.Unsigned, keypair.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", idx, err)
		}
		scripts[idx] = sigScript
	}

	return &SignatureShare{SessionID: sessionID, Scripts: scripts}, nil
}
