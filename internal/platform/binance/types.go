package binance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
)

// Ticker is one entry of the all-market rolling ticker stream. Only the
// fields the engine consumes are decoded.
type Ticker struct {
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	EventTime int64  `json:"E"`
}

// ToDomainSample converts a ticker into a PriceSample keyed "BINANCE:<SYMBOL>".
func (t Ticker) ToDomainSample(now time.Time) (domain.PriceSample, error) {
	sym := strings.ToUpper(strings.TrimSpace(t.Symbol))
	if sym == "" {
		return domain.PriceSample{}, fmt.Errorf("binance: ticker without symbol: %w", domain.ErrValidation)
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(t.LastPrice), 64)
	if err != nil || !domain.IsFinite(price) {
		return domain.PriceSample{}, fmt.Errorf("binance: ticker %s price %q: %w", sym, t.LastPrice, domain.ErrValidation)
	}
	observed := now
	if t.EventTime > 0 {
		observed = time.UnixMilli(t.EventTime)
	}
	return domain.PriceSample{
		Key:        domain.NewSymbolKey(domain.ProviderBinance, sym),
		Price:      price,
		ObservedAt: observed,
	}, nil
}

// ParseTickers decodes a stream frame. The all-market stream sends a JSON
// array; single-symbol streams send one object, which is accepted too.
// Entries that fail conversion are skipped and counted in dropped. A frame
// that is not JSON at all is an error.
func ParseTickers(raw []byte, now time.Time) (samples []domain.PriceSample, dropped int, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, 0, fmt.Errorf("binance: empty frame: %w", domain.ErrValidation)
	}

	var tickers []Ticker
	if raw[0] == '{' {
		var t Ticker
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, 0, fmt.Errorf("binance: decode ticker: %w", err)
		}
		tickers = []Ticker{t}
	} else if err := json.Unmarshal(raw, &tickers); err != nil {
		return nil, 0, fmt.Errorf("binance: decode ticker batch: %w", err)
	}

	samples = make([]domain.PriceSample, 0, len(tickers))
	for _, t := range tickers {
		s, err := t.ToDomainSample(now)
		if err != nil {
			dropped++
			continue
		}
		samples = append(samples, s)
	}
	return samples, dropped, nil
}

// parseKlines decodes the /api/v3/klines response. Each row is
// [openTime, open, high, low, close, volume, closeTime, ...] with prices as
// decimal strings.
func parseKlines(body []byte) ([]domain.Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	candles := make([]domain.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("kline %d: short row (%d fields)", i, len(row))
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("kline %d: open time: %w", i, err)
		}
		var ohlc [4]float64
		for j := 0; j < 4; j++ {
			var s string
			if err := json.Unmarshal(row[j+1], &s); err != nil {
				return nil, fmt.Errorf("kline %d: field %d: %w", i, j+1, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("kline %d: field %d: %w", i, j+1, err)
			}
			ohlc[j] = v
		}
		candles = append(candles, domain.Candle{
			Time:  time.UnixMilli(openTime).UTC(),
			Open:  ohlc[0],
			High:  ohlc[1],
			Low:   ohlc[2],
			Close: ohlc[3],
		})
	}
	return candles, nil
}
