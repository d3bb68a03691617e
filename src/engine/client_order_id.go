package engine

import (
	"fmt"
	"regexp"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Client order ids tie every exchange order back to the bot and the reason it
// was placed: dca_{botID}_{purpose}_{unixMillis}. Purposes are "base",
// "s{level}" for safety rungs, "tp" / "tp_{index}" for take-profits and
// "flatten" for risk-stop market exits.
const clientOrderIDMaxLen = 36

var clientOrderIDPattern = regexp.MustCompile(`^[a-zA-Z0-9\-_]{1,36}$`)

// MakeClientOrderID builds the idempotency token sent as the exchange client
// order id.
func MakeClientOrderID(botID uint, purpose string, at time.Time) string {
	return fmt.Sprintf("dca_%d_%s_%d", botID, purpose, at.UnixMilli())
}

// ValidClientOrderID reports whether an id fits the charset and length both
// Binance and Bybit accept.
func ValidClientOrderID(id string) bool {
	return len(id) <= clientOrderIDMaxLen && clientOrderIDPattern.MatchString(id)
}

// clientOrderID builds the idempotency token for an order. An id the venues
// would reject is dropped so the exchange assigns its own instead of failing
// the placement.
func clientOrderID(botID uint, purpose string, at time.Time) string {
	token := MakeClientOrderID(botID, purpose, at)
	if !ValidClientOrderID(token) {
		logger.WithFields(map[string]interface{}{
			"bot_id":  botID,
			"purpose": purpose,
		}).Warn("Client order id violates venue constraints, letting the exchange assign one")
		return ""
	}
	return token
}
