package chainadapter

import "time"

// Outpoint identifies a transaction output. Equality is by both fields.
type Outpoint struct {
	TxID        string `json:"tx_id"`
	OutputIndex uint32 `json:"output_index"`
}

// UTXO is an immutable unspent output as returned by the node.
type UTXO struct {
	Outpoint      Outpoint `json:"outpoint"`
	Amount        uint64   `json:"amount"`
	ScriptPubKey  string   `json:"script_public_key"`
	BlockDAAScore uint64   `json:"block_daa_score"`
	IsCoinbase    bool     `json:"is_coinbase"`
}

// Balance summarizes the UTXO set owned by a single address.
type Balance struct {
	Confirmed   uint64    `json:"confirmed"`
	Unconfirmed uint64    `json:"unconfirmed"`
	Mature      uint64    `json:"mature"`
	UTXOCount   int       `json:"utxo_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// FeeEstimate holds sompi-per-byte fee tiers.
type FeeEstimate struct {
	Low    uint64 `json:"low"`
	Normal uint64 `json:"normal"`
	High   uint64 `json:"high"`
}

// FeeTier selects one of the three fee rates in a FeeEstimate.
type FeeTier int

const (
	FeeTierLow FeeTier = iota
	FeeTierNormal
	FeeTierHigh
)

func (t FeeTier) String() string {
	switch t {
	case FeeTierLow:
		return "low"
	case FeeTierHigh:
		return "high"
	default:
		return "normal"
	}
}

// Rate returns the sompi-per-byte rate for the tier.
func (e FeeEstimate) Rate(t FeeTier) uint64 {
	switch t {
	case FeeTierLow:
		return e.Low
	case FeeTierHigh:
		return e.High
	default:
		return e.Normal
	}
}
