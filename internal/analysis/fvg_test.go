package analysis

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"smc-engine/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

func mkBar(i int, high, low, close float64) market.Bar {
	return market.Bar{
		Time:   baseTime.Add(time.Duration(i) * time.Minute),
		Open:   close,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: 100,
	}
}

func feed(book *ZoneBook, bars ...market.Bar) [][]ZoneEvent {
	out := make([][]ZoneEvent, 0, len(bars))
	for _, b := range bars {
		out = append(out, book.Ingest(b))
	}
	return out
}

func defaultBook() *ZoneBook {
	return NewZoneBook(ZoneConfig{MinGapSize: 0.25, ExpirationHorizon: 120})
}

// TestZoneBook_BullishGapCreation tests detection of a bullish gap between bar i-2 and bar i
func TestZoneBook_BullishGapCreation(t *testing.T) {
	book := defaultBook()

	events := feed(book,
		mkBar(0, 100, 95, 98),
		mkBar(1, 106, 97, 105),
		mkBar(2, 110, 105, 108),
	)

	require.Len(t, events[2], 1)
	ev := events[2][0]
	assert.Equal(t, ZoneEventCreated, ev.Kind)
	assert.Equal(t, 2, ev.Index)

	active := book.ActiveZones()
	require.Len(t, active, 1)
	z := active[0]
	assert.Equal(t, Bullish, z.Direction)
	assert.Equal(t, 105.0, z.Top)
	assert.Equal(t, 100.0, z.Bottom)
	assert.Equal(t, 2, z.CreatedAt)
	assert.Equal(t, baseTime.Add(2*time.Minute), z.CreatedTime)
	assert.Equal(t, ZoneActive, z.Status)
	assert.False(t, z.Traded)
	assert.Equal(t, -1, z.InvertedAt)
}

// TestZoneBook_BearishGapCreation tests detection of a bearish gap
func TestZoneBook_BearishGapCreation(t *testing.T) {
	book := defaultBook()

	feed(book,
		mkBar(0, 106, 100, 102),
		mkBar(1, 103, 95, 96),
		mkBar(2, 99, 92, 94),
	)

	active := book.ActiveZones()
	require.Len(t, active, 1)
	assert.Equal(t, Bearish, active[0].Direction)
	assert.Equal(t, 100.0, active[0].Top)
	assert.Equal(t, 99.0, active[0].Bottom)
}

func TestZoneBook_NoGapWhenBarsOverlap(t *testing.T) {
	book := defaultBook()

	events := feed(book,
		mkBar(0, 100, 94, 98),
		mkBar(1, 102, 97, 100),
		mkBar(2, 104, 99, 102),
	)

	assert.Empty(t, events[2])
	assert.Zero(t, book.Len())
}

func TestZoneBook_MinGapIsStrict(t *testing.T) {
	tests := []struct {
		name    string
		minGap  float64
		low     float64
		created bool
	}{
		{"gap above threshold", 0.25, 100.5, true},
		{"gap equal to threshold", 0.25, 100.25, false},
		{"gap below threshold", 0.25, 100.1, false},
		{"zero threshold accepts any gap", 0, 100.01, true},
		{"touching bars are not a gap", 0, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := NewZoneBook(ZoneConfig{MinGapSize: tt.minGap, ExpirationHorizon: 10})
			feed(book,
				mkBar(0, 100, 95, 98),
				mkBar(1, 103, 97, 102),
				mkBar(2, 104, tt.low, 103),
			)
			assert.Equal(t, tt.created, book.Len() == 1)
		})
	}
}

func TestZoneBook_BothDirectionsOnOneBar(t *testing.T) {
	book := defaultBook()

	// Bars 0 and 2 are malformed (high below low); the two checks are still
	// evaluated independently.
	events := feed(book,
		mkBar(0, 100, 110, 105),
		mkBar(1, 106, 102, 104),
		mkBar(2, 104, 105, 104.5),
	)

	require.Len(t, events[2], 2)
	zones := book.ActiveZones()
	require.Len(t, zones, 2)
	assert.Equal(t, Bullish, zones[0].Direction)
	assert.Equal(t, Bearish, zones[1].Direction)
	for _, z := range zones {
		assert.Greater(t, z.Top, z.Bottom)
	}
}

func TestZoneBook_InsufficientHistoryIsInert(t *testing.T) {
	book := defaultBook()

	assert.Nil(t, book.Ingest(mkBar(0, 100, 95, 98)))
	assert.Nil(t, book.Ingest(mkBar(1, 120, 110, 115)))
	assert.Zero(t, book.Len())
	assert.Equal(t, 2, book.Bars())
}

// TestZoneBook_InversionIsOneDirectional tests that an inverted zone never returns to active
func TestZoneBook_InversionIsOneDirectional(t *testing.T) {
	book := defaultBook()

	feed(book,
		mkBar(0, 100, 95, 98),
		mkBar(1, 106, 97, 105),
		mkBar(2, 110, 105, 108),
	)
	require.Len(t, book.ActiveZones(), 1)
	id := book.ActiveZones()[0].ID

	// Wicks below the bottom do not count, only the close.
	events := book.Ingest(mkBar(3, 108, 94, 101))
	assert.Empty(t, events)
	assert.Len(t, book.ActiveZones(), 1)

	events = book.Ingest(mkBar(4, 106, 94, 95))
	require.Len(t, events, 1)
	assert.Equal(t, ZoneEventInverted, events[0].Kind)
	assert.Empty(t, book.ActiveZones())

	inverted := book.InvertedZones()
	require.Len(t, inverted, 1)
	assert.Equal(t, id, inverted[0].ID)
	assert.Equal(t, 4, inverted[0].InvertedAt)
	assert.Equal(t, Bullish, inverted[0].Direction)

	book.Ingest(mkBar(5, 103, 96, 102))
	z, ok := book.Zone(id)
	require.True(t, ok)
	assert.Equal(t, ZoneInverted, z.Status)
	assert.Empty(t, book.ActiveZones())
}

func TestZoneBook_BearishInversion(t *testing.T) {
	book := defaultBook()

	feed(book,
		mkBar(0, 106, 100, 102),
		mkBar(1, 103, 95, 96),
		mkBar(2, 99, 92, 94),
	)

	events := book.Ingest(mkBar(3, 101, 95, 100.5))
	require.Len(t, events, 1)
	assert.Equal(t, ZoneEventInverted, events[0].Kind)
	assert.Len(t, book.TradableZones(), 1)
}

func TestZoneBook_Invalidation(t *testing.T) {
	tests := []struct {
		name        string
		bars        []market.Bar
		invalidated bool
	}{
		{
			name: "bullish origin closes back above top",
			bars: []market.Bar{
				mkBar(0, 100, 95, 98),
				mkBar(1, 106, 97, 105),
				mkBar(2, 110, 105, 108),
				mkBar(3, 101, 94, 95),
				mkBar(4, 107, 96, 106),
			},
			invalidated: true,
		},
		{
			name: "bullish origin closes inside zone",
			bars: []market.Bar{
				mkBar(0, 100, 95, 98),
				mkBar(1, 106, 97, 105),
				mkBar(2, 110, 105, 108),
				mkBar(3, 101, 94, 95),
				mkBar(4, 105, 96, 104),
			},
			invalidated: false,
		},
		{
			name: "bearish origin closes back below bottom",
			bars: []market.Bar{
				mkBar(0, 106, 100, 102),
				mkBar(1, 103, 95, 96),
				mkBar(2, 99, 92, 94),
				mkBar(3, 101, 95, 100.5),
				mkBar(4, 100, 97, 98),
			},
			invalidated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := defaultBook()
			events := feed(book, tt.bars...)
			last := events[len(events)-1]

			if tt.invalidated {
				require.Len(t, last, 1)
				assert.Equal(t, ZoneEventInvalidated, last[0].Kind)
				assert.Zero(t, book.Len())
			} else {
				assert.Empty(t, last)
				assert.Len(t, book.InvertedZones(), 1)
			}
		})
	}
}

// TestZoneBook_Expiration tests a zone created at index 10 with horizon 5 is gone at index 16
func TestZoneBook_Expiration(t *testing.T) {
	for _, invert := range []bool{false, true} {
		book := NewZoneBook(ZoneConfig{MinGapSize: 0.25, ExpirationHorizon: 5})

		for i := 0; i < 8; i++ {
			book.Ingest(mkBar(i, 101, 99, 100))
		}
		book.Ingest(mkBar(8, 100, 95, 99))
		book.Ingest(mkBar(9, 108, 99, 106))
		book.Ingest(mkBar(10, 110, 105, 108))
		require.Len(t, book.ActiveZones(), 1)
		require.Equal(t, 10, book.ActiveZones()[0].CreatedAt)

		for i := 11; i <= 15; i++ {
			c := 108.0
			if invert && i == 15 {
				c = 99
			}
			book.Ingest(mkBar(i, 110, 98, c))
		}
		assert.Equal(t, 1, book.Len(), "zone must survive at index 15 (invert=%v)", invert)

		events := book.Ingest(mkBar(16, 110, 106, 108))
		require.NotEmpty(t, events)
		assert.Equal(t, ZoneEventExpired, events[0].Kind)
		assert.Empty(t, book.ActiveZones())
		assert.Empty(t, book.InvertedZones())
	}
}

func TestZoneBook_NonFiniteBarAgesZones(t *testing.T) {
	book := NewZoneBook(ZoneConfig{MinGapSize: 0.25, ExpirationHorizon: 2})

	feed(book,
		mkBar(0, 100, 95, 98),
		mkBar(1, 106, 97, 105),
		mkBar(2, 110, 105, 108),
		mkBar(3, 110, 106, 108),
		mkBar(4, math.NaN(), 106, 108),
	)
	assert.Equal(t, 1, book.Len())

	// Index 5 makes the zone 3 bars old; the NaN bar still counted.
	events := book.Ingest(mkBar(5, 110, 106, 108))
	require.Len(t, events, 1)
	assert.Equal(t, ZoneEventExpired, events[0].Kind)
	assert.Equal(t, 6, book.Bars())
}

func TestZoneBook_NonFiniteBarNeverFormsGap(t *testing.T) {
	book := defaultBook()

	events := feed(book,
		mkBar(0, math.NaN(), 95, 98),
		mkBar(1, 106, 97, 105),
		mkBar(2, 110, 105, 108),
		mkBar(3, 110, 106, math.Inf(1)),
	)

	for _, evs := range events {
		assert.Empty(t, evs)
	}
	assert.Zero(t, book.Len())
}

func TestZoneBook_MarkTraded(t *testing.T) {
	book := defaultBook()
	feed(book,
		mkBar(0, 100, 95, 98),
		mkBar(1, 106, 97, 105),
		mkBar(2, 110, 105, 108),
		mkBar(3, 101, 94, 95),
	)
	tradable := book.TradableZones()
	require.Len(t, tradable, 1)
	id := tradable[0].ID

	require.NoError(t, book.MarkTraded(id))
	require.NoError(t, book.MarkTraded(id))
	assert.Empty(t, book.TradableZones())
	assert.Len(t, book.InvertedZones(), 1)

	err := book.MarkTraded(id + 100)
	assert.ErrorIs(t, err, ErrZoneNotFound)
}

func TestZoneBook_IDsStableAcrossRemoval(t *testing.T) {
	book := NewZoneBook(ZoneConfig{MinGapSize: 0.25, ExpirationHorizon: 3})

	feed(book,
		mkBar(0, 100, 95, 98),
		mkBar(1, 106, 97, 105),
		mkBar(2, 110, 105, 108),
		mkBar(3, 113, 109, 112),
		mkBar(4, 118, 114, 116),
	)
	zones := book.Zones()
	require.Len(t, zones, 3)
	assert.Equal(t, []ZoneID{1, 2, 3}, []ZoneID{zones[0].ID, zones[1].ID, zones[2].ID})

	book.Ingest(mkBar(5, 119, 116, 118)) // creates id 4
	book.Ingest(mkBar(6, 120, 117, 118)) // zone 1 ages past the horizon

	_, ok := book.Zone(1)
	assert.False(t, ok)
	z, ok := book.Zone(3)
	require.True(t, ok)
	assert.Equal(t, ZoneID(3), z.ID)
	require.NoError(t, book.MarkTraded(3))
	z, _ = book.Zone(3)
	assert.True(t, z.Traded)
}

// TestZoneBook_TopAboveBottomInvariant feeds a random walk and checks every zone
func TestZoneBook_TopAboveBottomInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	book := NewZoneBook(ZoneConfig{MinGapSize: 0, ExpirationHorizon: 30})

	price := 100.0
	for i := 0; i < 5000; i++ {
		price += rng.NormFloat64() * 2
		high := price + rng.Float64()*1.5
		low := price - rng.Float64()*1.5
		c := low + rng.Float64()*(high-low)

		for _, ev := range book.Ingest(mkBar(i, high, low, c)) {
			require.Greater(t, ev.Zone.Top, ev.Zone.Bottom)
		}
		for _, z := range book.Zones() {
			require.Greater(t, z.Top, z.Bottom)
			require.LessOrEqual(t, z.Age(i), 30)
		}
	}
}

func TestZone_Helpers(t *testing.T) {
	z := Zone{Top: 110, Bottom: 100, Status: ZoneInverted, CreatedAt: 5}
	assert.Equal(t, 105.0, z.Mid())
	assert.Equal(t, 10.0, z.Size())
	assert.Equal(t, 3, z.Age(8))
	assert.True(t, z.Tradable())
	assert.True(t, z.Contains(100))
	assert.False(t, z.Contains(110.01))
}

// BenchmarkZoneBookIngest benchmarks per-bar zone maintenance
func BenchmarkZoneBookIngest(b *testing.B) {
	rng := rand.New(rand.NewSource(7))
	bars := make([]market.Bar, 1000)
	price := 100.0
	for i := range bars {
		price += rng.NormFloat64()
		bars[i] = mkBar(i, price+1, price-1, price)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		book := NewZoneBook(ZoneConfig{MinGapSize: 0.25, ExpirationHorizon: 120})
		for _, bar := range bars {
			book.Ingest(bar)
		}
	}
}
