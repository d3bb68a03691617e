package connectors

import (
	"strings"
	"testing"
)

func TestClassifyBinanceCodes(t *testing.T) {
	cases := []struct {
		code   int
		msg    string
		reason string
	}{
		{-1021, "Timestamp for this request is outside of the recvWindow.", ReasonTimestamp},
		{-1022, "Signature for this request is not valid.", ReasonSignature},
		{-2014, "API-key format invalid.", ReasonPermission},
		{-2015, "Invalid API-key, IP, or permissions for action.", ReasonPermission},
		{-1003, "Too many requests.", ReasonRateLimit},
		{-2013, "Order does not exist.", ReasonOrderNotFound},
		{-2010, "Account has insufficient balance for requested action.", ReasonInsufficientBalance},
		{-9999, "something new", ReasonExchangeError},
	}
	for _, tc := range cases {
		if got := classifyBinanceCode(tc.code, tc.msg); got != tc.reason {
			t.Errorf("code %d: expected %s, got %s", tc.code, tc.reason, got)
		}
	}
}

func TestClassifyBybitRetCodes(t *testing.T) {
	cases := []struct {
		retCode int
		retMsg  string
		reason  string
	}{
		{10002, "invalid request, please check your server timestamp", ReasonTimestamp},
		{10004, "error sign, please check your signature", ReasonSignature},
		{10003, "API key is invalid", ReasonPermission},
		{10005, "Permission denied", ReasonPermission},
		{10006, "Too many visits", ReasonRateLimit},
		{170131, "Insufficient balance", ReasonInsufficientBalance},
		{10001, "req timestamp expired", ReasonTimestamp},
	}
	for _, tc := range cases {
		if got := classifyBybitRetCode(tc.retCode, tc.retMsg); got != tc.reason {
			t.Errorf("retCode %d: expected %s, got %s", tc.retCode, tc.reason, got)
		}
	}
}

func TestRedactMasksCredentialMaterial(t *testing.T) {
	cases := []string{
		`request failed: apikey=AbCd1234SecretValue invalid`,
		`{"api_key":"AbCd1234"} rejected`,
		`secret=shhhh signature mismatch`,
	}
	for _, msg := range cases {
		redacted := Redact(msg)
		if strings.Contains(redacted, "AbCd1234") || strings.Contains(redacted, "shhhh") {
			t.Errorf("credential survived redaction: %q -> %q", msg, redacted)
		}
		if !strings.Contains(redacted, "[REDACTED]") {
			t.Errorf("expected redaction marker in %q", redacted)
		}
	}
}

func TestReasonOfUnclassifiedError(t *testing.T) {
	if got := ReasonOf(errTest); got != ReasonExchangeError {
		t.Fatalf("expected EXCHANGE_ERROR for plain errors, got %s", got)
	}
	apiErr := &APIError{Reason: ReasonRateLimit, Message: "slow down"}
	if got := ReasonOf(apiErr); got != ReasonRateLimit {
		t.Fatalf("expected RATE_LIMIT, got %s", got)
	}
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "boom" }
