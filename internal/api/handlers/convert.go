package handlers

import (
	"fmt"

	"kasmix/internal/config"
	"kasmix/internal/store"
)

var errInvalidBody = fmt.Errorf("%w: malformed request body", config.ErrInputValidation)

func toDestinations(payload []destinationPayload) []store.Destination {
	destinations := make([]store.Destination, len(payload))
	for i, d := range payload {
		destinations[i] = store.Destination{Address: d.Address, Amount: store.Sompi(d.Amount)}
	}
	return destinations
}

func toRevealedOutpoints(payload []revealedOutpointPayload) []store.RevealedOutpoint {
	outpoints := make([]store.RevealedOutpoint, len(payload))
	for i, u := range payload {
		outpoints[i] = store.RevealedOutpoint{TxID: u.TxID, Index: u.Index, Amount: store.Sompi(u.Amount)}
	}
	return outpoints
}
