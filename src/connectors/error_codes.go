package connectors

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Portable reason codes, independent of venue.
const (
	ReasonPermission          = "PERMISSION"
	ReasonTimestamp           = "TIMESTAMP"
	ReasonSignature           = "SIGNATURE"
	ReasonRateLimit           = "RATE_LIMIT"
	ReasonRestricted          = "RESTRICTED"
	ReasonInvalidQuantity     = "INVALID_QUANTITY"
	ReasonBelowMinNotional    = "BELOW_MIN_NOTIONAL"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonNoOrderID           = "NO_ORDER_ID"
	ReasonTickerFailed        = "TICKER_FAILED"
	ReasonBalanceFetchFailed  = "BALANCE_FETCH_FAILED"
	ReasonExchangeError       = "EXCHANGE_ERROR"
	ReasonDemoMode            = "DEMO_MODE"
	ReasonOrderNotFound       = "ORDER_NOT_FOUND"
	ReasonOther               = "OTHER"
)

// APIError is a venue error mapped onto the portable taxonomy. Message is
// already redacted and safe to show or log.
type APIError struct {
	Reason     string
	HTTPStatus int
	VenueCode  int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// ReasonOf extracts the portable reason code from an error chain, defaulting
// to EXCHANGE_ERROR for anything unclassified.
func ReasonOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Reason
	}
	return ReasonExchangeError
}

// IsTimestampError reports whether the error is a clock-drift rejection that
// warrants an offset refresh and a single retry.
func IsTimestampError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Reason == ReasonTimestamp
}

// IsOrderNotFound reports whether the venue explicitly said the order does
// not exist (as opposed to a transport or auth failure).
func IsOrderNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Reason == ReasonOrderNotFound
}

var redactPattern = regexp.MustCompile(`(?i)(api[_-]?key|secret)["']?\s*[:=]\s*["']?[^&\s"',}]*`)

// Redact masks anything that looks like a credential value in a message so
// the string is safe for audit rows and user display.
func Redact(msg string) string {
	return redactPattern.ReplaceAllString(msg, "$1=[REDACTED]")
}

// classifyHTTPStatus maps transport-level statuses that are meaningful on
// their own, before any venue body is inspected.
func classifyHTTPStatus(status int) (string, bool) {
	switch status {
	case 429:
		return ReasonRateLimit, true
	case 451:
		return ReasonRestricted, true
	case 403:
		return ReasonRestricted, true
	}
	return "", false
}

// classifyBinanceCode maps Binance spot error codes to the portable taxonomy.
// https://binance-docs.github.io/apidocs/spot/en/#error-codes
func classifyBinanceCode(code int, msg string) string {
	switch code {
	case -1021:
		return ReasonTimestamp
	case -1022:
		return ReasonSignature
	case -2014, -2015:
		return ReasonPermission
	case -1003:
		return ReasonRateLimit
	case -2013:
		return ReasonOrderNotFound
	case -1013:
		return ReasonInvalidQuantity
	case -2010:
		if strings.Contains(strings.ToLower(msg), "insufficient") {
			return ReasonInsufficientBalance
		}
		return ReasonExchangeError
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "recvwindow") || strings.Contains(lower, "timestamp") {
		return ReasonTimestamp
	}
	if strings.Contains(lower, "restricted location") || strings.Contains(lower, "eligibility") {
		return ReasonRestricted
	}
	return ReasonExchangeError
}

// classifyBybitRetCode maps Bybit v5 retCodes to the portable taxonomy.
func classifyBybitRetCode(retCode int, retMsg string) string {
	lower := strings.ToLower(retMsg)
	switch retCode {
	case 10002:
		return ReasonTimestamp
	case 10004:
		return ReasonSignature
	case 10003:
		return ReasonPermission
	case 10005, 10010:
		return ReasonPermission
	case 10006, 10018:
		return ReasonRateLimit
	case 110001, 170213:
		return ReasonOrderNotFound
	case 170131, 110007:
		return ReasonInsufficientBalance
	}
	if retCode == 10001 && (strings.Contains(lower, "timestamp") || strings.Contains(lower, "recv") || strings.Contains(lower, "expired")) {
		return ReasonTimestamp
	}
	if strings.Contains(lower, "rate") && strings.Contains(lower, "limit") {
		return ReasonRateLimit
	}
	return ReasonExchangeError
}

func parsePositiveFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, fmt.Errorf("non-positive value: %s", s)
	}
	return f, nil
}
