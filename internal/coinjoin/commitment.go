// Package coinjoin implements the zero-trust equal-value CoinJoin protocol
// (§4.4): commit, reveal, assemble, sign, aggregate, submit. The engine
// (and the Bridge that relays between participants) never sees a private
// key; every signature is produced by the caller and handed over as a
// finished share.
package coinjoin

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"kasmix/internal/store"
)

// sortRevealedOutpoints returns a copy of utxos sorted ascending by
// (tx_id, index), the canonical order §4.4.1 fixes for the utxo_digest.
func sortRevealedOutpoints(utxos []store.RevealedOutpoint) []store.RevealedOutpoint {
	sorted := make([]store.RevealedOutpoint, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TxID != sorted[j].TxID {
			return sorted[i].TxID < sorted[j].TxID
		}
		return sorted[i].Index < sorted[j].Index
	})
	return sorted
}

// ComputeDestHash hashes the destination address together with the
// participant's private salt (§4.4.1).
func ComputeDestHash(destination string, salt []byte) string {
	h := sha256.New()
	h.Write([]byte(destination))
	h.Write(salt)
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeUTXODigest hashes the participant's revealed UTXO set, in
// ascending (tx_id, index) order, each entry as outpoint || amount
// (§4.4.1).
func ComputeUTXODigest(utxos []store.RevealedOutpoint) string {
	h := sha256.New()
	for _, u := range sortRevealedOutpoints(utxos) {
		h.Write([]byte(u.TxID))
		var idxBuf [4]byte
		binary.BigEndian.PutUint32(idxBuf[:], u.Index)
		h.Write(idxBuf[:])
		var amtBuf [8]byte
		binary.BigEndian.PutUint64(amtBuf[:], uint64(u.Amount))
		h.Write(amtBuf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeCommitment derives the publishable commitment from a dest hash,
// utxo digest, and the round's per-participant amount (§4.4.1).
func ComputeCommitment(destHash, utxoDigest string, perParticipantAmount store.Sompi) string {
	h := sha256.New()
	h.Write([]byte(destHash))
	h.Write([]byte(utxoDigest))
	var amtBuf [8]byte
	binary.BigEndian.PutUint64(amtBuf[:], uint64(perParticipantAmount))
	h.Write(amtBuf[:])
	return hex.EncodeToString(h.Sum(nil))
}

// sumRevealedOutpoints totals a revealed UTXO set.
func sumRevealedOutpoints(utxos []store.RevealedOutpoint) store.Sompi {
	var total store.Sompi
	for _, u := range utxos {
		total += u.Amount
	}
	return total
}

// outpointsOverlap reports whether a and b share any (tx_id, index) pair.
func outpointsOverlap(a, b []store.RevealedOutpoint) bool {
	seen := make(map[string]struct{}, len(a))
	for _, u := range a {
		seen[outpointKey(u.TxID, u.Index)] = struct{}{}
	}
	for _, u := range b {
		if _, ok := seen[outpointKey(u.TxID, u.Index)]; ok {
			return true
		}
	}
	return false
}

func outpointKey(txID string, index uint32) string {
	return fmt.Sprintf("%s:%d", txID, index)
}
