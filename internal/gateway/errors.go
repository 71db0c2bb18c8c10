package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/adshao/go-binance/v2/common"
)

// Sentinel errors for gateway failures. Use errors.Is against these.
var (
	ErrRateLimited           = errors.New("rate limited")
	ErrNetwork               = errors.New("network failure")
	ErrRejected              = errors.New("rejected by exchange")
	ErrUnsupportedParameters = errors.New("unsupported order parameters")
	ErrOrderNotFound         = errors.New("order not found")
	ErrUnknownMarket         = errors.New("unknown market")
	ErrCanceled              = errors.New("request canceled")
)

// Error is a classified gateway failure
type Error struct {
	Op   string // gateway operation, e.g. "create_order"
	Kind error  // one of the sentinel errors above
	Err  error  // underlying error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap classifies err and attaches the operation name. Already-classified
// errors are returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return err
	}
	return &Error{Op: op, Kind: Classify(err), Err: err}
}

// IsTransient reports whether err may succeed on retry
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetwork)
}

// Binance API error codes, see https://binance-docs.github.io/apidocs/spot/en/#error-codes
var (
	rateLimitCodes   = map[int64]bool{-1003: true, -1015: true}
	networkCodes     = map[int64]bool{-1000: true, -1001: true, -1006: true, -1007: true, -1021: true}
	unsupportedCodes = map[int64]bool{-1101: true, -1102: true, -1103: true, -1104: true, -1106: true, -1128: true}
	notFoundCodes    = map[int64]bool{-2011: true, -2013: true}
)

// Classify maps an arbitrary error to one of the sentinel kinds
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrRateLimited, ErrNetwork, ErrRejected, ErrUnsupportedParameters, ErrOrderNotFound, ErrUnknownMarket, ErrCanceled} {
		if errors.Is(err, kind) {
			return kind
		}
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case rateLimitCodes[apiErr.Code]:
			return ErrRateLimited
		case networkCodes[apiErr.Code]:
			return ErrNetwork
		case unsupportedCodes[apiErr.Code]:
			return ErrUnsupportedParameters
		case notFoundCodes[apiErr.Code]:
			return ErrOrderNotFound
		default:
			return ErrRejected
		}
	}

	if errors.Is(err, context.Canceled) {
		return ErrCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrNetwork
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "429"):
		return ErrRateLimited
	case strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline"),
		strings.Contains(errStr, "temporary failure"),
		strings.Contains(errStr, "eof"):
		return ErrNetwork
	}
	return ErrRejected
}

// Error categories, bounded label values for metrics
const (
	CategoryTimeout     = "timeout"
	CategoryRateLimit   = "rate_limit"
	CategoryNetwork     = "network"
	CategoryRejected    = "rejected"
	CategoryUnsupported = "unsupported_params"
	CategoryNotFound    = "not_found"
	CategoryUnknown     = "unknown_market"
	CategoryCanceled    = "canceled"
)

// Category maps an error to a bounded category label; nil yields ""
func Category(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case ErrRateLimited:
		return CategoryRateLimit
	case ErrNetwork:
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return CategoryTimeout
		}
		return CategoryNetwork
	case ErrUnsupportedParameters:
		return CategoryUnsupported
	case ErrOrderNotFound:
		return CategoryNotFound
	case ErrUnknownMarket:
		return CategoryUnknown
	case ErrCanceled:
		return CategoryCanceled
	default:
		return CategoryRejected
	}
}
