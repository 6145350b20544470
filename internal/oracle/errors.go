package oracle

import (
	"errors"
	"fmt"
)

// Kind classifies an aggregation failure independently of transport wording.
// Handlers map tagged kinds to user-visible responses; untagged errors are
// treated as internal.
type Kind string

const (
	KindSourceUnavailable         Kind = "source_unavailable"
	KindInvalidQuote              Kind = "invalid_quote"
	KindUnknownSymbol             Kind = "unknown_symbol"
	KindNoSources                 Kind = "no_sources"
	KindAllStale                  Kind = "all_stale"
	KindLowSingleSourceConfidence Kind = "low_single_source_confidence"
	KindDeviationTooHigh          Kind = "deviation_too_high"
	KindStale                     Kind = "stale"
	KindHistoryUnavailable        Kind = "history_unavailable"
	KindPriceDataStale            Kind = "price_data_stale"
)

// Error is a kind-tagged aggregation failure for one symbol.
type Error struct {
	Kind   Kind
	Symbol string
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Symbol != "" {
		s += " " + e.Symbol
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches two tagged errors on Kind alone, so callers can test
// errors.Is(err, &Error{Kind: KindNoSources}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds a tagged error with a formatted message.
func NewError(kind Kind, symbol, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Symbol: symbol, Msg: fmt.Sprintf(format, args...)}
}

// WrapError tags an underlying cause.
func WrapError(kind Kind, symbol string, cause error) *Error {
	return &Error{Kind: kind, Symbol: symbol, Cause: cause}
}

// KindOf extracts the kind tag, or "" for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind tag.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
