package market

import (
	"fmt"
	"math"
	"time"
)

// Bar is a single OHLCV candle. Bars are appended in time order and never
// mutated after creation.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// IsFinite reports whether every price field is a finite number.
func (b Bar) IsFinite() bool {
	for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Mid returns the midpoint of the bar's range.
func (b Bar) Mid() float64 {
	return (b.High + b.Low) / 2
}

func (b Bar) String() string {
	return fmt.Sprintf("%s O:%.4f H:%.4f L:%.4f C:%.4f V:%.2f",
		b.Time.UTC().Format(time.RFC3339), b.Open, b.High, b.Low, b.Close, b.Volume)
}

// Instrument identifies one symbol/timeframe stream. Every instrument owns an
// independent engine.
type Instrument struct {
	Symbol    string `json:"symbol" validate:"required"`
	Timeframe string `json:"timeframe" validate:"required"`
}

// Key returns the canonical "SYMBOL:tf" form used for cache keys and maps.
func (i Instrument) Key() string {
	return i.Symbol + ":" + i.Timeframe
}

func (i Instrument) String() string {
	return i.Key()
}

// Kline is the Binance-compatible candle payload delivered by the kline stream.
type Kline struct {
	OpenTime  int64   `json:"t"`
	CloseTime int64   `json:"T"`
	Symbol    string  `json:"s"`
	Interval  string  `json:"i"`
	Open      float64 `json:"o,string"`
	Close     float64 `json:"c,string"`
	High      float64 `json:"h,string"`
	Low       float64 `json:"l,string"`
	Volume    float64 `json:"v,string"`
	IsClosed  bool    `json:"x"`
}

// ToBar converts a kline into a Bar stamped with the kline open time.
func (k Kline) ToBar() Bar {
	return Bar{
		Time:   time.UnixMilli(k.OpenTime).UTC(),
		Open:   k.Open,
		High:   k.High,
		Low:    k.Low,
		Close:  k.Close,
		Volume: k.Volume,
	}
}
