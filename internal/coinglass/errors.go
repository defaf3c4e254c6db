package coinglass

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed upstream call.
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindRateLimited  ErrorKind = "rate_limited"
	KindUpstream     ErrorKind = "upstream"
	KindTransport    ErrorKind = "transport"
	KindDecode       ErrorKind = "decode"
	KindAPI          ErrorKind = "api"
)

// ErrSymbolNotSupported is matched by every UnsupportedSymbolError.
var ErrSymbolNotSupported = errors.New("symbol not supported")

// APIError is the typed form of a failed Result.
type APIError struct {
	Endpoint   string
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("coinglass %s: %s (%d): %s", e.Endpoint, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("coinglass %s: %s: %s", e.Endpoint, e.Kind, e.Message)
}

// UnsupportedSymbolError is returned when user input does not map to a
// symbol CoinGlass tracks.
type UnsupportedSymbolError struct {
	Input  string
	Symbol string
}

func (e *UnsupportedSymbolError) Error() string {
	if e.Symbol == "" || e.Symbol == e.Input {
		return fmt.Sprintf("symbol %q not supported", e.Input)
	}
	return fmt.Sprintf("symbol %q (%s) not supported", e.Input, e.Symbol)
}

func (e *UnsupportedSymbolError) Is(target error) bool {
	return target == ErrSymbolNotSupported
}
