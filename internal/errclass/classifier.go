// Package errclass maps low-level relayer errors to a Fatal/Retry/Ignore
// disposition (§4.5, §7). It is the single decision point for error
// handling in the core: everything above it sees only Fatal | Continue, the
// same narrowing handle_link_error_in_task does for
// TaskError::Fatal/TaskError::Ignore.
package errclass

import (
	"errors"
	"strings"
)

// Kind is the taxonomy of §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindClientExpired
	KindClientFrozen
	KindInvalidProof
	KindHeightMismatch
	KindTxBroadcast
	KindTxTimeout
	KindPacketNotFound
	KindConfig
	KindRegistry
)

func (k Kind) String() string {
	switch k {
	case KindClientExpired:
		return "ClientExpired"
	case KindClientFrozen:
		return "ClientFrozen"
	case KindInvalidProof:
		return "InvalidProof"
	case KindHeightMismatch:
		return "HeightMismatch"
	case KindTxBroadcast:
		return "TxBroadcast"
	case KindTxTimeout:
		return "TxTimeout"
	case KindPacketNotFound:
		return "PacketNotFound"
	case KindConfig:
		return "Config"
	case KindRegistry:
		return "Registry"
	default:
		return "Unknown"
	}
}

// LinkError is the error type produced by C1–C3; every error that crosses
// the link's public contract is, or wraps, a LinkError.
type LinkError struct {
	Kind    Kind
	Path    string
	Message string
	Cause   error
}

func (e *LinkError) Error() string {
	if e.Path != "" {
		return e.Kind.String() + " on " + e.Path + ": " + e.Message
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *LinkError) Unwrap() error { return e.Cause }

// NewLinkError constructs a LinkError of the given kind.
func NewLinkError(kind Kind, path, message string, cause error) *LinkError {
	return &LinkError{Kind: kind, Path: path, Message: message, Cause: cause}
}

// Disposition is the classifier's verdict.
type Disposition int

const (
	Continue Disposition = iota // Retry or Ignore: the caller keeps going
	Fatal
)

func (d Disposition) String() string {
	if d == Fatal {
		return "Fatal"
	}
	return "Continue"
}

// Verdict carries the disposition plus whether the error should be dropped
// silently (Ignore) or retried on the next tick (Retry) — both map to
// Continue for callers above the classifier. pathlink's expired-tx handling
// uses the distinction to decide whether to re-queue; the worker loop logs
// every Continue error the same way.
type Verdict struct {
	Disposition Disposition
	Retry       bool // only meaningful when Disposition == Continue
}

// Classify maps a LinkError to its disposition per the §7 taxonomy.
// A nil error classifies as Continue without Retry. An error that isn't a
// *LinkError classifies as Continue+Retry, since any error that escapes the
// link's typed boundary is, from the classifier's point of view, an
// unclassified transient fault.
func Classify(err error) Verdict {
	if err == nil {
		return Verdict{Disposition: Continue, Retry: false}
	}

	var le *LinkError
	if !errors.As(err, &le) {
		return Verdict{Disposition: Continue, Retry: true}
	}

	switch le.Kind {
	case KindClientExpired, KindClientFrozen:
		return Verdict{Disposition: Fatal}
	case KindPacketNotFound:
		return Verdict{Disposition: Continue, Retry: false}
	case KindInvalidProof, KindHeightMismatch, KindTxBroadcast, KindTxTimeout:
		return Verdict{Disposition: Continue, Retry: true}
	case KindConfig, KindRegistry:
		// Fatal to spawn. A running worker observes KindRegistry only when
		// pathlink's update_schedule meets an event kind the scheduler
		// cannot classify, and that ends the worker too.
		return Verdict{Disposition: Fatal}
	default:
		return Verdict{Disposition: Continue, Retry: true}
	}
}

// IsExpiredOrFrozen reports whether err is a client-expired or
// client-frozen LinkError — the client conditions under which the worker
// terminates (§4.4 state machine, §8 scenario 4). Classify also treats
// KindConfig and KindRegistry as Fatal.
func IsExpiredOrFrozen(err error) bool {
	var le *LinkError
	if !errors.As(err, &le) {
		return false
	}
	return le.Kind == KindClientExpired || le.Kind == KindClientFrozen
}

// ClassifyBroadcastError maps a raw broadcast/RPC error string to a Kind,
// for chain-handle implementations that can't construct a typed LinkError
// directly (e.g. wrapping a CometBFT RPC client error). Mirrors the
// substring classification pkg/txhelper.IsRetryableError uses for
// go-ethereum JSON-RPC errors, adapted to Cosmos SDK/CometBFT broadcast
// error strings.
func ClassifyBroadcastError(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	msg := strings.ToLower(err.Error())

	permanentMarkers := []string{
		"insufficient funds",
		"insufficient fee",
		"unauthorized",
		"invalid signature",
		"out of gas",
	}
	for _, m := range permanentMarkers {
		if strings.Contains(msg, m) {
			return KindTxBroadcast
		}
	}

	retryableMarkers := []string{
		"mempool is full",
		"tx already in mempool",
		"account sequence mismatch",
		"connection refused",
		"connection reset",
		"eof",
		"timeout",
		"context deadline exceeded",
		"no such host",
		"rpc error",
	}
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return KindTxBroadcast
		}
	}

	return KindTxBroadcast
}
