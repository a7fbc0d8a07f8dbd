package bridge

import "encoding/json"

// MessageType labels a Bridge envelope. Ordering is enforced by phase: join
// is the first phase, reveal the second, sig_share the signing phase, and
// submitted and abort are terminal (§4.5).
type MessageType string

const (
	TypeJoin      MessageType = "JOIN"
	TypeReveal    MessageType = "REVEAL"
	TypeSigShare  MessageType = "SIG_SHARE"
	TypeSubmitted MessageType = "SUBMITTED"
	TypeAbort     MessageType = "ABORT"
)

// Phase numbers, lowest to highest. A round's phase only ever moves
// forward; Hub.Accept rejects any message whose phase has already passed.
const (
	phaseJoin      = 0
	phaseReveal    = 1
	phaseSigShare  = 2
	phaseSubmitted = 3
)

// phase orders message types for the reveal-before-signature-before-submit
// rule. Messages of a phase lower than the round's current phase are
// rejected as out of order.
func (t MessageType) phase() int {
	switch t {
	case TypeJoin:
		return phaseJoin
	case TypeReveal:
		return phaseReveal
	case TypeSigShare:
		return phaseSigShare
	case TypeSubmitted, TypeAbort:
		return phaseSubmitted
	default:
		return -1
	}
}

// Envelope is the wire format for every Bridge message. Payload carries the
// type-specific fields as raw JSON so the hub can route without fully
// decoding every message shape.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// JoinPayload announces a commitment to the lobby (§4.5). No salt,
// destination, or UTXO ever appears here.
type JoinPayload struct {
	Amount         string `json:"amount"`
	Commitment     string `json:"commitment"`
	DestinationHash string `json:"destination_hash"`
}

// RevealPayload publishes a session's reveal once its round has formed.
type RevealPayload struct {
	RoundID            string           `json:"round_id"`
	DestinationAddress string           `json:"destination_address"`
	Salt               string           `json:"salt"`
	UTXOs              []json.RawMessage `json:"utxos"`
}

// SigSharePayload carries one session's signature contribution for a round.
type SigSharePayload struct {
	RoundID       string   `json:"round_id"`
	OwningSession string   `json:"owning_session"`
	InputIndices  []int    `json:"input_indices"`
	Signatures    []string `json:"signatures"`
}

// SubmittedPayload announces a round's final broadcast transaction id.
type SubmittedPayload struct {
	RoundID string `json:"round_id"`
	TxID    string `json:"tx_id"`
}

// AbortPayload announces a round's termination before submission.
type AbortPayload struct {
	RoundID          string `json:"round_id"`
	Reason           string `json:"reason"`
	OffendingSession string `json:"offending_session,omitempty"`
}
