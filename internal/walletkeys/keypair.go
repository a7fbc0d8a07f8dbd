// Package walletkeys generates and exports the ephemeral keypairs owned
// exclusively by a single mixing or coinjoin session. There is no HD
// derivation here: every session address is a fresh random keypair, used
// once and zeroized on delete or export.
package walletkeys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// addressPrefix is the bech32-style human-readable prefix used for the
// generated session addresses. mainnet uses "kaspa", testnet "kaspatest".
const (
	mainnetPrefix = "kaspa"
	testnetPrefix = "kaspatest"
)

// Keypair is an ephemeral secp256k1 keypair owned by exactly one session.
type Keypair struct {
	PrivateKey *secp256k1.PrivateKey
	Address    string
}

// Generate creates a fresh random keypair and derives its address for the
// given network ("mainnet" or "testnet").
func Generate(network string) (*Keypair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate session keypair: %w", err)
	}

	addr := deriveAddress(priv.PubKey(), network)
	slog.Debug("session keypair generated", "address", addr, "network", network)

	return &Keypair{PrivateKey: priv, Address: addr}, nil
}

// deriveAddress derives a human-readable address from a public key. Real
// address encoding belongs to the node/wallet layer; this mirrors the
// scheme closely enough for the Chain Adapter's wire format (a prefixed
// hex digest of the compressed public key).
func deriveAddress(pub *secp256k1.PublicKey, network string) string {
	prefix := mainnetPrefix
	if network != "mainnet" {
		prefix = testnetPrefix
	}
	digest := sha256.Sum256(pub.SerializeCompressed())
	return fmt.Sprintf("%s:%s", prefix, hex.EncodeToString(digest[:20]))
}

// ExportPrivateKeyHex returns the lowercase hex encoding of the private key,
// matching the persisted session format's encoding rule (§6). The caller
// owns the returned string; walletkeys does not retain a copy.
func ExportPrivateKeyHex(k *Keypair) string {
	return hex.EncodeToString(k.PrivateKey.Serialize())
}

// ImportPrivateKeyHex reconstructs a Keypair from a previously exported hex
// private key, re-deriving its address.
func ImportPrivateKeyHex(hexKey, network string) (*Keypair, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}

	priv := secp256k1.PrivKeyFromBytes(raw)
	return &Keypair{PrivateKey: priv, Address: deriveAddress(priv.PubKey(), network)}, nil
}

// Zeroize overwrites the private key's backing bytes. Best-effort: Go's
// garbage collector may have already copied the value elsewhere, but this
// closes the obvious window where the platform allows it (§9 design note).
func Zeroize(k *Keypair) {
	if k == nil || k.PrivateKey == nil {
		return
	}
	k.PrivateKey.Zero()
}
