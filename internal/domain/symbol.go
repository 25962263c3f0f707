package domain

import (
	"fmt"
	"strings"
)

// SymbolKey identifies a tradable instrument within a provider namespace,
// e.g. "BINANCE:BTCUSDT". Keys compare by exact string equality.
type SymbolKey string

// Well-known providers.
const (
	ProviderBinance = "BINANCE"
	ProviderOanda   = "OANDA"
	ProviderNasdaq  = "NASDAQ"
	ProviderIndex   = "INDEX"
)

// NormalizeKey trims and upper-cases a key. Callers never need to do this
// themselves; the router normalizes every key it indexes.
func NormalizeKey(key string) SymbolKey {
	return SymbolKey(strings.ToUpper(strings.TrimSpace(key)))
}

// NewSymbolKey joins a provider and ticker. A "/" inside the ticker is
// dropped so "BTC/USDT" and "BTCUSDT" address the same instrument.
func NewSymbolKey(provider, ticker string) SymbolKey {
	ticker = strings.ReplaceAll(ticker, "/", "")
	return NormalizeKey(provider + ":" + ticker)
}

// ParseSymbolKey splits a key into its provider and ticker.
func ParseSymbolKey(key SymbolKey) (provider, ticker string, err error) {
	parts := strings.Split(string(key), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("domain: symbol key %q: %w", key, ErrValidation)
	}
	return parts[0], parts[1], nil
}

// Provider returns the provider part of the key, or "" if the key is malformed.
func (k SymbolKey) Provider() string {
	p, _, err := ParseSymbolKey(k)
	if err != nil {
		return ""
	}
	return p
}

// Ticker returns the ticker part of the key, or "" if the key is malformed.
func (k SymbolKey) Ticker() string {
	_, t, err := ParseSymbolKey(k)
	if err != nil {
		return ""
	}
	return t
}

func (k SymbolKey) String() string { return string(k) }

// Pair is a selectable instrument in the catalogue.
type Pair struct {
	Group string    `json:"group"`
	Label string    `json:"label"`
	Key   SymbolKey `json:"key"`
}

// DefaultPairs is the instrument catalogue offered to sessions.
var DefaultPairs = []Pair{
	{Group: "Crypto", Label: "Bitcoin / USDT", Key: "BINANCE:BTCUSDT"},
	{Group: "Crypto", Label: "Ethereum / USDT", Key: "BINANCE:ETHUSDT"},
	{Group: "Crypto", Label: "BNB / USDT", Key: "BINANCE:BNBUSDT"},
	{Group: "Forex", Label: "EUR / USD", Key: "OANDA:EURUSD"},
	{Group: "Forex", Label: "USD / JPY", Key: "OANDA:USDJPY"},
	{Group: "Commodities", Label: "Gold (XAU/USD)", Key: "OANDA:XAUUSD"},
	{Group: "Stocks", Label: "Apple", Key: "NASDAQ:AAPL"},
	{Group: "Stocks", Label: "Tesla", Key: "NASDAQ:TSLA"},
	{Group: "Indices", Label: "S&P 500", Key: "INDEX:SP500"},
}
