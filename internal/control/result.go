// Package control implements the Control Surface (§4.6): the operations
// callable from the CLI and HTTP API, every one of them returning a
// structured outcome rather than a Go error across the boundary. Errors
// only cross this package as the Result's kind/message pair.
package control

import (
	"errors"

	"kasmix/internal/config"
	"kasmix/internal/store"
)

// Kind is the §7 error-kind sum type, surfaced to callers instead of a raw
// error so the UI/CLI can map it to a human string without string-matching
// error text.
type Kind string

const (
	KindNone                Kind = ""
	KindInputValidation     Kind = config.CodeInputValidation
	KindUTXONotAvailable    Kind = config.CodeUTXONotAvailable
	KindUTXOCreationFailed  Kind = config.CodeUTXOCreationFailed
	KindNodeUnreachable     Kind = config.CodeNodeUnreachable
	KindNodeTimeout         Kind = config.CodeNodeTimeout
	KindSequenceLock        Kind = config.CodeSequenceLock
	KindMempoolReject       Kind = config.CodeMempoolReject
	KindCommitmentMismatch  Kind = config.CodeCommitmentMismatch
	KindUnequalContribution Kind = config.CodeUnequalContribution
	KindSignatureRejected   Kind = config.CodeSignatureRejected
	KindRoundTimeout        Kind = config.CodeRoundTimeout
	KindInternalInvariant   Kind = config.CodeInternalInvariant
	KindInvalidConfig       Kind = config.CodeInvalidConfig
)

// Result is the envelope every Control Surface operation returns: either
// {ok: true, value} or {ok: false, kind, message} (§4.6, §7).
type Result struct {
	OK      bool   `json:"ok"`
	Value   any    `json:"value,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// Ok wraps a successful value.
func Ok(value any) Result {
	return Result{OK: true, Value: value}
}

// Err classifies err into a Kind and wraps it as a failed Result.
func Err(err error) Result {
	return Result{OK: false, Kind: classify(err), Message: err.Error()}
}

var classifications = []struct {
	sentinel error
	kind     Kind
}{
	{config.ErrInputValidation, KindInputValidation},
	{store.ErrNotFound, KindInputValidation},
	{config.ErrUTXONotAvailable, KindUTXONotAvailable},
	{config.ErrUTXOCreationFailed, KindUTXOCreationFailed},
	{config.ErrNodeUnreachable, KindNodeUnreachable},
	{config.ErrNodeTimeout, KindNodeTimeout},
	{config.ErrSequenceLock, KindSequenceLock},
	{config.ErrMempoolReject, KindMempoolReject},
	{config.ErrCommitmentMismatch, KindCommitmentMismatch},
	{config.ErrUnequalContribution, KindUnequalContribution},
	{config.ErrSignatureRejected, KindSignatureRejected},
	{config.ErrRoundTimeout, KindRoundTimeout},
	{config.ErrInternalInvariant, KindInternalInvariant},
	{config.ErrInvalidConfig, KindInvalidConfig},
}

func classify(err error) Kind {
	for _, c := range classifications {
		if errors.Is(err, c.sentinel) {
			return c.kind
		}
	}
	return KindInternalInvariant
}
