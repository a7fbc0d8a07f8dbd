package store

import (
	"fmt"
	"strconv"
	"time"
)

// Sompi is an amount in the chain's smallest denomination. It marshals as a
// decimal string per the persisted session format (§6): no floating point
// ever touches the money path.
type Sompi uint64

func (s Sompi) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(s), 10) + `"`), nil
}

func (s *Sompi) UnmarshalJSON(data []byte) error {
	str := string(data)
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	v, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return fmt.Errorf("parse sompi amount %q: %w", string(data), err)
	}
	*s = Sompi(v)
	return nil
}

// CurrentSchemaVersion is written into every persisted document that has no
// version set. Reads do not check it.
const CurrentSchemaVersion = 1

// Destination is a single payout leg of a mixing session.
type Destination struct {
	Address string `json:"address"`
	Amount  Sompi  `json:"amount"`
}

// MixingSessionStatus is the mixer state-machine label (§4.2).
type MixingSessionStatus string

const (
	MixingWaiting              MixingSessionStatus = "waiting"
	MixingDepositReceived      MixingSessionStatus = "deposit_received"
	MixingSentToIntermediate   MixingSessionStatus = "sent_to_intermediate"
	MixingIntermediateConfirm  MixingSessionStatus = "intermediate_confirmed"
	MixingConfirmed            MixingSessionStatus = "confirmed"
	MixingError                MixingSessionStatus = "error"
)

// MixingSession is the persisted document for a multi-hop mixing session (§3).
type MixingSession struct {
	SchemaVersion int                 `json:"schema_version"`
	ID            string              `json:"id"`
	Destinations  []Destination       `json:"destinations"`
	Amount        Sompi               `json:"amount"`

	DepositAddress        string `json:"deposit_address"`
	DepositPrivateKeyHex  string `json:"deposit_private_key"`
	IntermediateAddress       string `json:"intermediate_address"`
	IntermediatePrivateKeyHex string `json:"intermediate_private_key"`

	Status MixingSessionStatus `json:"status"`

	DepositTxID       string   `json:"deposit_tx_id,omitempty"`
	IntermediateTxID  string   `json:"intermediate_tx_id,omitempty"`
	PayoutTxIDs       []string `json:"payout_tx_ids,omitempty"`

	IntermediateConfirmed  bool      `json:"intermediate_confirmed"`
	IntermediateDelayUntil time.Time `json:"intermediate_delay_until"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Error string `json:"error,omitempty"`
}

// Redacted returns a copy with both private keys blanked, suitable for
// list_sessions / get_session responses.
func (m MixingSession) Redacted() MixingSession {
	m.DepositPrivateKeyHex = ""
	m.IntermediatePrivateKeyHex = ""
	return m
}

// CoinJoinSessionStatus is the coinjoin state-machine label (§4.4.7).
type CoinJoinSessionStatus string

const (
	CoinJoinCommitted CoinJoinSessionStatus = "committed"
	CoinJoinRevealed  CoinJoinSessionStatus = "revealed"
	CoinJoinBuilding  CoinJoinSessionStatus = "building"
	CoinJoinSigned    CoinJoinSessionStatus = "signed"
	CoinJoinSubmitted CoinJoinSessionStatus = "submitted"
	CoinJoinCompleted CoinJoinSessionStatus = "completed"
	CoinJoinFailed    CoinJoinSessionStatus = "failed"
)

// RevealedOutpoint is a UTXO reference as recorded after reveal.
type RevealedOutpoint struct {
	TxID   string `json:"tx_id"`
	Index  uint32 `json:"index"`
	Amount Sompi  `json:"amount"`
}

// CoinJoinSession is the persisted document for a CoinJoin round
// participant (§3). original_utxos/original_destination/salt enable
// one-click reveal (§4.4.8) and are wiped on completed/failed.
type CoinJoinSession struct {
	SchemaVersion          int    `json:"schema_version"`
	ID                     string `json:"id"`
	ParticipantCountTarget int    `json:"participant_count_target"`
	PerParticipantAmount   Sompi  `json:"per_participant_amount"`

	Commitment      string `json:"commitment"`
	DestinationHash string `json:"destination_hash"`

	OriginalUTXOs       []RevealedOutpoint `json:"original_utxos,omitempty"`
	OriginalDestination string             `json:"original_destination,omitempty"`
	Salt                string             `json:"salt,omitempty"`

	Status CoinJoinSessionStatus `json:"status"`

	RevealedUTXOs      []RevealedOutpoint `json:"revealed_utxos,omitempty"`
	DestinationAddress string             `json:"destination_address,omitempty"`
	RoundID            string             `json:"round_id,omitempty"`
	BuiltTxHash        string             `json:"built_tx_hash,omitempty"`
	PayoutTxID         string             `json:"payout_tx_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Error string `json:"error,omitempty"`
}

// WipeOneClickReveal clears the fields that exist only to support one-click
// reveal, per §4.4.8: they must not survive past completed/failed.
func (c *CoinJoinSession) WipeOneClickReveal() {
	c.OriginalUTXOs = nil
	c.OriginalDestination = ""
	c.Salt = ""
}
