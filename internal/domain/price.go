package domain

import (
	"math"
	"time"
)

// PriceSample is a single observed price for a symbol.
type PriceSample struct {
	Key        SymbolKey `json:"key"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// Valid reports whether the sample carries a usable key and a finite price.
func (s PriceSample) Valid() bool {
	return s.Key != "" && IsFinite(s.Price)
}

// IsFinite reports whether f is neither NaN nor infinite.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Candle is one OHLC bar of the historical series.
type Candle struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}
