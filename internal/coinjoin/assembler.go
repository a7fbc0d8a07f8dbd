package coinjoin

import (
	"context"
	"fmt"
	"sort"
	"time"

	"kasmix/internal/chainadapter"
	"kasmix/internal/config"
	"kasmix/internal/store"
	"kasmix/internal/txbuild"
)

// Descriptor is the unsigned-transaction view published to every
// participant after assembly (§4.4.4). It carries no private data: every
// field here is already public once round formation happens.
type Descriptor struct {
	RoundID     string           `json:"round_id"`
	Unsigned    txbuild.Unsigned `json:"unsigned"`
	InputOwners []string         `json:"input_owners"` // parallel to Unsigned.Inputs: owning session id per input
	TotalInput  uint64           `json:"total_input"`
	Fee         uint64           `json:"fee"`
	PerOutput   uint64           `json:"per_output"`
	Mass        uint64           `json:"mass"`
}

type weightedInput struct {
	input txbuild.Input
	owner string
}

// Build assembles the unsigned transaction for a round once it holds
// exactly config.ParticipantCountTarget sessions in the building state
// (§4.4.4). Assembly is idempotent: calling Build again for the same round
// returns the same descriptor without re-deriving it.
func (e *Engine) Build(ctx context.Context, roundID string) (*Descriptor, error) {
	e.mu.Lock()
	if rs, ok := e.rounds[roundID]; ok && rs.descriptor != nil {
		e.mu.Unlock()
		return rs.descriptor, nil
	}
	e.mu.Unlock()

	sessions, err := e.store.ListCoinJoinSessionsByRound(roundID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for round %s: %w", roundID, err)
	}
	if len(sessions) != config.ParticipantCountTarget {
		return nil, fmt.Errorf("%w: round %s has %d sessions, want exactly %d", config.ErrInputValidation, roundID, len(sessions), config.ParticipantCountTarget)
	}

	weighted := make([]weightedInput, 0, len(sessions))
	destinations := make([]string, 0, len(sessions))
	contributions := make(map[string]store.Sompi, len(sessions))

	for _, s := range sessions {
		if s.Status != store.CoinJoinBuilding {
			return nil, fmt.Errorf("%w: session %s is not in building state (status=%s)", config.ErrInputValidation, s.ID, s.Status)
		}
		var sessionTotal store.Sompi
		for _, u := range s.RevealedUTXOs {
			weighted = append(weighted, weightedInput{
				input: txbuild.Input{TxID: u.TxID, OutputIndex: u.Index, Amount: uint64(u.Amount)},
				owner: s.ID,
			})
			sessionTotal += u.Amount
		}
		contributions[s.ID] = sessionTotal
		destinations = append(destinations, s.DestinationAddress)
	}

	if err := checkEqualContribution(contributions); err != nil {
		// §8 scenario 4: leave every session exactly where it was
		// (building) rather than failing it outright. Nothing in this
		// package moves these sessions out of building afterwards.
		return nil, err
	}

	sort.Slice(weighted, func(i, j int) bool {
		a, b := weighted[i].input, weighted[j].input
		if a.TxID != b.TxID {
			return a.TxID < b.TxID
		}
		return a.OutputIndex < b.OutputIndex
	})

	unsigned := txbuild.Unsigned{}
	owners := make([]string, len(weighted))
	firstInputPosition := make(map[string]int, len(weighted))
	var totalInput uint64
	for i, w := range weighted {
		unsigned.Inputs = append(unsigned.Inputs, w.input)
		owners[i] = w.owner
		totalInput += w.input.Amount
		if _, seen := firstInputPosition[w.owner]; !seen {
			firstInputPosition[w.owner] = i
		}
	}

	feeEstimate, err := e.chain.EstimateFeeRate(ctx)
	var feeRate uint64 = 1
	if err == nil {
		feeRate = feeEstimate.Rate(chainadapter.FeeTierNormal)
	}
	estFee := txbuild.EstimateFee(len(unsigned.Inputs), config.ParticipantCountTarget, feeRate)
	if estFee >= totalInput {
		return nil, fmt.Errorf("%w: total input %d does not cover estimated fee %d", config.ErrInputValidation, totalInput, estFee)
	}

	perOutput := (totalInput - estFee) / config.ParticipantCountTarget
	remainder := (totalInput - estFee) - perOutput*config.ParticipantCountTarget
	fee := estFee + remainder // dust folded into the fee; outputs stay exactly equal

	outputs := make([]txbuild.Output, len(destinations))
	outputPositions := make([]int, len(destinations))
	for i, addr := range destinations {
		outputs[i] = txbuild.Output{Address: addr, Amount: perOutput}
		outputPositions[i] = firstInputPosition[sessions[i].ID]
	}
	txbuild.SortOutputs(outputs, outputPositions)
	unsigned.Outputs = outputs

	mass := txbuild.EstimateMass(len(unsigned.Inputs), len(unsigned.Outputs))
	if mass >= config.MassLimit {
		return nil, fmt.Errorf("%w: assembled transaction mass %d exceeds limit %d", config.ErrInputValidation, mass, config.MassLimit)
	}

	descriptor := &Descriptor{
		RoundID:     roundID,
		Unsigned:    unsigned,
		InputOwners: owners,
		TotalInput:  totalInput,
		Fee:         fee,
		PerOutput:   perOutput,
		Mass:        mass,
	}

	txHash, err := unsigned.HashHex()
	if err != nil {
		return nil, fmt.Errorf("hash assembled transaction: %w", err)
	}

	now := time.Now().UTC()
	for _, s := range sessions {
		sCopy := s
		sCopy.BuiltTxHash = txHash
		sCopy.UpdatedAt = now
		if err := e.store.PutCoinJoinSession(&sCopy); err != nil {
			return nil, fmt.Errorf("persist built tx hash for session %s: %w", s.ID, err)
		}
	}

	e.mu.Lock()
	e.rounds[roundID] = &roundState{descriptor: descriptor, signatures: make(map[int]string), signedBy: make(map[int]string)}
	e.mu.Unlock()

	return descriptor, nil
}

// checkEqualContribution enforces §4.4.4's absolute-equality rule: every
// participant's input contribution must be identical (in this protocol
// that means equal to per_participant_amount).
func checkEqualContribution(contributions map[string]store.Sompi) error {
	var min, max store.Sompi
	first := true
	for _, v := range contributions {
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if min != max {
		return fmt.Errorf("%w: contributions range from %d to %d sompi", config.ErrUnequalContribution, min, max)
	}
	return nil
}
